//go:build sqlcipher

package mirror

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// openSecureSQLite opens an encrypted mirror. The key comes from the OS
// keyring and never touches the config file.
func openSecureSQLite(path, key string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma_key=%s&_pragma_cipher_page_size=4096",
		url.PathEscape(path), url.QueryEscape(key))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open encrypted mirror: %w", err)
	}
	// Force the file into existence so its mode can be tightened.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unlock encrypted mirror: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("restrict mirror permissions: %w", err)
	}
	return db, nil
}

func secureSQLiteSupported() bool { return true }
