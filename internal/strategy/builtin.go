package strategy

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"

	"dbrb/internal/runner"
)

const (
	MySQLDumpType    = "MySQLDump"
	InnoBackupExType = "InnoBackupEx"
	RedisDumpType    = "RedisDump"

	defaultMySQLDataDir = "/var/lib/mysql"
	defaultRedisDataDir = "/var/lib/redis"

	mysqlPasswordEnv = "MYSQL_PWD"
	redisPasswordEnv = "REDISCLI_AUTH"
)

// withSecret passes password to the strategy commands through env var key.
func withSecret(opts runner.Options, key, password string) runner.Options {
	if password == "" {
		return opts
	}
	opts.Env = append(slices.Clone(opts.Env), key+"="+password)
	return opts
}

// extraOpts validates that opts is well-formed shell and returns it as-is.
func extraOpts(opts string) (string, error) {
	if _, err := shellquote.Split(opts); err != nil {
		return "", fmt.Errorf("invalid extra_opts %q: %w", opts, err)
	}
	return strings.TrimSpace(opts), nil
}

func joinCommand(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func dataDir(p Params, fallback string) string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return fallback
}

func newMySQLDump(p Params) (*runner.Runner, error) {
	extra, err := extraOpts(p.ExtraOpts)
	if err != nil {
		return nil, err
	}

	cmd := joinCommand(
		"mysqldump --all-databases",
		extra,
		"--opt",
		shellquote.Join("-u", p.User),
		"2>/tmp/mysqldump.log",
	)
	return runner.New(MySQLDumpType, p.Filename, cmd, "", withSecret(p.Options, mysqlPasswordEnv, p.Password))
}

func newMySQLDumpRestore(p Params) (*runner.RestoreRunner, error) {
	cmd := shellquote.Join("mysql", "-u", p.User)
	return runner.NewRestore(MySQLDumpType, p.RestoreLocation, cmd, nil, withSecret(p.Options, mysqlPasswordEnv, p.Password))
}

func newInnoBackupEx(p Params) (*runner.Runner, error) {
	extra, err := extraOpts(p.ExtraOpts)
	if err != nil {
		return nil, err
	}

	cmd := joinCommand(
		"innobackupex --stream=xbstream",
		extra,
		shellquote.Join(dataDir(p, defaultMySQLDataDir)),
		"2>/tmp/innobackupex.log",
	)
	return runner.New(InnoBackupExType, p.Filename, cmd, ".xbstream", p.Options)
}

func newInnoBackupExRestore(p Params) (*runner.RestoreRunner, error) {
	location := p.RestoreLocation
	cmd := shellquote.Join("xbstream", "-x", "-C", location)
	post := []string{
		shellquote.Join("innobackupex", "--apply-log", location) + " 2>/tmp/innoprepare.log",
		shellquote.Join("chown", "-R", "mysql:mysql", location),
	}
	return runner.NewRestore(InnoBackupExType, location, cmd, post, p.Options)
}

func newRedisDump(p Params) (*runner.Runner, error) {
	extra, err := extraOpts(p.ExtraOpts)
	if err != nil {
		return nil, err
	}
	cmd := joinCommand("redis-cli --rdb -", extra, "2>/tmp/redis-dump.log")
	return runner.New(RedisDumpType, p.Filename, cmd, ".rdb", withSecret(p.Options, redisPasswordEnv, p.Password))
}

func newRedisDumpRestore(p Params) (*runner.RestoreRunner, error) {
	location := p.RestoreLocation
	if location == "" {
		location = defaultRedisDataDir
	}
	dump := filepath.Join(location, "dump.rdb")
	cmd := "cat > " + shellquote.Join(dump)
	post := []string{shellquote.Join("chown", "redis:redis", dump)}
	return runner.NewRestore(RedisDumpType, location, cmd, post, p.Options)
}
