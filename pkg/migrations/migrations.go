package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// MigrateStore applies the goose migrations. An empty migrationFolder selects the
// migrations embedded in the binary.
func MigrateStore(db *gorm.DB, migrationFolder string) error {
	goose.SetLogger(&logger{})

	fsys, dir, err := migrationsFS(migrationFolder)
	if err != nil {
		return err
	}
	goose.SetBaseFS(fsys)

	dialect := "postgres"
	if db.Dialector.Name() == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, dir)
}

func migrationsFS(migrationFolder string) (fs.FS, string, error) {
	if migrationFolder == "" {
		return embeddedMigrations, "sql", nil
	}

	fi, err := os.Stat(migrationFolder)
	if err != nil {
		return nil, "", err
	}

	if !fi.Mode().IsDir() {
		return nil, "", fmt.Errorf("failed to open migration folder: %s is not a folder", migrationFolder)
	}

	return os.DirFS(migrationFolder), ".", nil
}

// logger implements goose.Logger
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("migrations").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("migrations").Fatalf(format, v...) }
