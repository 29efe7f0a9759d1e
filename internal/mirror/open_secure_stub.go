//go:build !sqlcipher

package mirror

import (
	"database/sql"
	"errors"
)

var errNoSQLCipher = errors.New("sqlcipher support not compiled in")

func openSecureSQLite(string, string) (*sql.DB, error) {
	return nil, errNoSQLCipher
}

func secureSQLiteSupported() bool { return false }
