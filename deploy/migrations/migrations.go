package migrations

import (
	"embed"
	"io/fs"
)

// Files 暴露所有 SQL 迁移文件，按数据库方言分目录。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS

// MySQL 返回 MySQL 方言的迁移文件。
func MySQL() fs.FS {
	sub, err := fs.Sub(Files, "mysql")
	if err != nil {
		panic(err)
	}
	return sub
}

// SQLite 返回 SQLite 方言的迁移文件。
func SQLite() fs.FS {
	sub, err := fs.Sub(Files, "sqlite")
	if err != nil {
		panic(err)
	}
	return sub
}
