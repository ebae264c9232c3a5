// Package migration はSQLiteデータベースのマイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、バージョン管理テーブルで適用状態を追跡する。
//
// 適用状態はスコープ単位で記録するため、1つのデータベースに複数の
// パッケージが独立したマイグレーション系列を持てる。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultScope はスコープを指定しない場合の系列名。
const DefaultScope = "default"

type runner struct {
	scope  string
	logger zerolog.Logger
}

// Option はマイグレーションの実行方法を変更する。
type Option func(*runner)

// WithScope はマイグレーション系列の名前を指定する。
func WithScope(scope string) Option {
	return func(r *runner) {
		r.scope = scope
	}
}

// WithLogger は適用ログの出力先を指定する。
func WithLogger(l zerolog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

// Run はデフォルトスコープでマイグレーションを適用する。
func Run(db *sql.DB, fsys fs.FS, dir string, opts ...Option) error {
	return RunContext(context.Background(), db, fsys, dir, opts...)
}

// RunContext はembedされたマイグレーションファイルを順序通りに適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// ファイル名形式: 000001_description.up.sql
func RunContext(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, opts ...Option) error {
	r := runner{scope: DefaultScope, logger: log.Logger}
	for _, opt := range opts {
		opt(&r)
	}

	if err := ensureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := AppliedVersions(ctx, db, r.scope)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range migrations {
		if done[m.version] {
			continue
		}

		if err := applyMigration(ctx, db, fsys, r.scope, m); err != nil {
			return fmt.Errorf("マイグレーション %s/%06d の適用に失敗: %w", r.scope, m.version, err)
		}
		r.logger.Info().
			Str("scope", r.scope).
			Int("version", m.version).
			Str("name", m.name).
			Msg("migration.applied")
	}

	return nil
}

type migrationFile struct {
	version int
	name    string
	path    string
}

// ensureMigrationsTable はバージョン管理テーブルを作成する。
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			scope TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (scope, version)
		)
	`)
	return err
}

// AppliedVersions はスコープの適用済みバージョンを昇順で返す。
func AppliedVersions(ctx context.Context, db *sql.DB, scope string) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE scope = ? ORDER BY version", scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var applied []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied = append(applied, v)
	}
	return applied, rows.Err()
}

// collectMigrations はディレクトリからup.sqlファイルを収集してバージョン順にソートする。
func collectMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}

		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		migrations = append(migrations, migrationFile{
			version: version,
			name:    strings.TrimSuffix(rest, ".up.sql"),
			path:    dir + "/" + entry.Name(),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// applyMigration は1つのマイグレーションをトランザクション内で適用する。
func applyMigration(ctx context.Context, db *sql.DB, fsys fs.FS, scope string, m migrationFile) error {
	content, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (scope, version, name) VALUES (?, ?, ?)",
		scope, m.version, m.name,
	); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}

	return tx.Commit()
}
