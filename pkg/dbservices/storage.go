package dbservices

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"recordcore/internal/archive"
	"recordcore/internal/infra/driver/memory"
	"recordcore/internal/infra/driver/postgres"
	"recordcore/internal/infra/driver/sqlite"
	"recordcore/pkg/record"
)

// StorageDriver identifies a concrete storage driver implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Config carries the construction parameters of the coordination layer:
// driver selection, connection settings, repository names and the injected
// collaborators.
type Config struct {
	Driver   StorageDriver
	Host     string
	Port     int
	User     string
	Password string
	// Database names the backing database. For sqlite it is the file path;
	// for postgres it may also be a full DSN.
	Database string

	SubjectsRepository   string
	DetailsRepository    string
	VersioningRepository string

	// ArchiveDriver selects the revision archive backend (fs|s3|memory).
	// Empty defers to the RECORDCORE_ARCHIVE_* environment.
	ArchiveDriver string
	// ArchiveRoot is the directory root for the fs archive backend.
	ArchiveRoot string

	// Logger for the coordination layer; nil disables logging.
	Logger *zerolog.Logger
	// Metrics receives one observation per operation; nil discards them.
	Metrics MetricsRecorder
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = StorageSQLite
	}
	if c.SubjectsRepository == "" {
		c.SubjectsRepository = "subjects"
	}
	if c.DetailsRepository == "" {
		c.DetailsRepository = "details"
	}
	if c.VersioningRepository == "" {
		c.VersioningRepository = c.DetailsRepository + "_versions"
	}
}

// Open builds a coordination layer from explicit configuration.
func Open(ctx context.Context, cfg Config) (*Services, error) {
	cfg.applyDefaults()
	factory, err := openFactory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := openArchive(ctx, cfg)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return newServices(factory, store, cfg), nil
}

// OpenFromEnv builds a coordination layer from environment variables,
// defaulting to sqlite when unset.
//
//	RECORDCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	RECORDCORE_SQLITE_PATH: path to sqlite file (default ./recordcore.db)
//	RECORDCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	RECORDCORE_SUBJECTS_REPOSITORY / RECORDCORE_DETAILS_REPOSITORY /
//	RECORDCORE_VERSIONING_REPOSITORY: repository names
func OpenFromEnv(ctx context.Context) (*Services, error) {
	cfg := Config{
		Driver:               StorageDriver(os.Getenv("RECORDCORE_STORAGE_DRIVER")),
		SubjectsRepository:   os.Getenv("RECORDCORE_SUBJECTS_REPOSITORY"),
		DetailsRepository:    os.Getenv("RECORDCORE_DETAILS_REPOSITORY"),
		VersioningRepository: os.Getenv("RECORDCORE_VERSIONING_REPOSITORY"),
	}
	switch cfg.Driver {
	case StoragePostgres:
		cfg.Database = os.Getenv("RECORDCORE_POSTGRES_DSN")
	default:
		cfg.Database = os.Getenv("RECORDCORE_SQLITE_PATH")
	}
	return Open(ctx, cfg)
}

func openFactory(ctx context.Context, cfg Config) (record.DriverFactory, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewFactory(), nil
	case StorageSQLite:
		return sqlite.NewFactory(cfg.Database)
	case StoragePostgres:
		return postgres.NewFactory(ctx, postgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

func openArchive(ctx context.Context, cfg Config) (archive.Store, error) {
	switch archive.Driver(cfg.ArchiveDriver) {
	case archive.DriverMemory:
		return archive.NewMemory(), nil
	case archive.DriverFilesystem:
		return archive.NewFilesystem(cfg.ArchiveRoot)
	case archive.DriverS3:
		return archive.OpenS3FromEnv(ctx)
	case "":
		return archive.Open(ctx)
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.ArchiveDriver)
	}
}

// postgresDSN accepts a full DSN in Database or assembles one from the
// connection fields.
func postgresDSN(cfg Config) string {
	if strings.Contains(cfg.Database, "://") {
		return cfg.Database
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	hostport := host
	if cfg.Port != 0 {
		hostport = host + ":" + strconv.Itoa(cfg.Port)
	}
	database := cfg.Database
	if database == "" {
		database = "recordcore"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     hostport,
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	return u.String()
}
