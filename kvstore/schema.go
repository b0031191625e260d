package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MigrationKey is the reserved key holding the applied schema migration
// level. It lives in the same table as user data, so callers should treat
// it as off-limits.
const MigrationKey = "MYSQL_MIGRATION_LEVEL"

// migrationTimeout bounds schema alterations, which can rewrite the whole
// table on a large install.
const migrationTimeout = 10 * time.Minute

// Init prepares the backing table: it creates the table if missing, checks
// the character set configuration, and applies any pending schema
// migrations. Init is idempotent and meant to run on every startup. It is
// also the one place a failed establishment is redialled, so callers that
// want startup retries loop over Init explicitly.
func (s *Store) Init(ctx context.Context) error {
	s.redialFailed()
	if err := s.createTable(ctx); err != nil {
		return err
	}
	s.verifyCharset(ctx)
	return s.migrate(ctx)
}

func (s *Store) createTable(ctx context.Context) error {
	collation := s.charset + "_bin"
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s` ("+
			"`key` VARCHAR(%d) CHARACTER SET %s COLLATE %s NOT NULL, "+
			"`value` LONGTEXT CHARACTER SET %s COLLATE %s NOT NULL, "+
			"PRIMARY KEY (`key`)"+
			") ENGINE=%s DEFAULT CHARSET=%s COLLATE=%s",
		s.table, MaxKeyLength, s.charset, collation, s.charset, collation,
		s.engine, s.charset, collation)
	_, err := s.execute(ctx, stmt, nil, 0)
	return err
}

// verifyCharset compares the database default and the table collation with
// the configured character set. Mismatches are logged, never fatal: the
// columns pin their own collation, so data written through this store stays
// correct either way, but an operator should know the server disagrees.
func (s *Store) verifyCharset(ctx context.Context) {
	rows, err := s.execute(ctx, "SELECT @@character_set_database", nil, 0)
	if err != nil {
		log.Warn().Err(err).Msg("kvstore: character set verification failed")
		return
	}
	if len(rows) == 1 && len(rows[0]) == 1 && rows[0][0] != s.charset {
		log.Warn().
			Str("database", rows[0][0]).
			Str("configured", s.charset).
			Msg("kvstore: database character set differs from configuration")
	}

	rows, err = s.execute(ctx,
		"SELECT `table_collation` FROM `information_schema`.`tables` "+
			"WHERE `table_schema` = DATABASE() AND `table_name` = ?",
		[]any{s.table}, 0)
	if err != nil {
		log.Warn().Err(err).Msg("kvstore: table collation verification failed")
		return
	}
	want := s.charset + "_bin"
	if len(rows) == 1 && len(rows[0]) == 1 && !strings.EqualFold(rows[0][0], want) {
		log.Warn().
			Str("table", s.table).
			Str("collation", rows[0][0]).
			Str("configured", want).
			Msg("kvstore: table collation differs from configuration")
	}
}

// migrations holds one schema alteration per level, applied in order on top
// of the base table. Level N is migrations()[N-1].
func (s *Store) migrations() []string {
	collation := s.charset + "_bin"
	return []string{
		// 1: widen value for installs created before the LONGTEXT column
		// and pin the binary collation on it.
		fmt.Sprintf("ALTER TABLE `%s` MODIFY `value` LONGTEXT CHARACTER SET %s COLLATE %s NOT NULL",
			s.table, s.charset, collation),
	}
}

// migrate reads the stored migration level and applies anything pending,
// bumping the marker after each level so an interrupted run resumes where
// it stopped.
func (s *Store) migrate(ctx context.Context) error {
	raw, found, err := s.Get(ctx, MigrationKey)
	if err != nil {
		return err
	}
	level := 0
	if found {
		level, err = strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("kvstore: migration marker %q is not a number: %v", raw, err)
		}
	}

	pending := s.migrations()
	if level > len(pending) {
		log.Warn().
			Int("level", level).
			Int("known", len(pending)).
			Msg("kvstore: stored migration level is ahead of this version")
		return nil
	}
	for ; level < len(pending); level++ {
		log.Info().Int("level", level+1).Msg("kvstore: applying schema migration")
		if _, err := s.execute(ctx, pending[level], nil, migrationTimeout); err != nil {
			return err
		}
		if err := s.Set(ctx, MigrationKey, strconv.Itoa(level+1)); err != nil {
			return err
		}
	}
	return nil
}
