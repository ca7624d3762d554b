// Package source enumerates and opens raw sales files from a local
// directory, an S3 bucket, or an FTP directory.
package source

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Object describes one file in a source.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Source is an enumerable set of named files.
type Source interface {
	// List returns every object in the source, sorted by name.
	List(ctx context.Context) ([]Object, error)
	// Open returns the content of the named object. The caller closes it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Kinds accepted by New.
const (
	KindDir = "dir"
	KindS3  = "s3"
	KindFTP = "ftp"
)

// Options configures every source kind; only the fields for Kind are read.
type Options struct {
	Kind         string `mapstructure:"kind"`
	Dir          string `mapstructure:"dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	AccessKeyID  string `mapstructure:"access_key_id"`
	SecretKey    string `mapstructure:"secret_access_key"`
	FTPAddr      string `mapstructure:"ftp_addr"`
	FTPUser      string `mapstructure:"ftp_user"`
	FTPPassword  string `mapstructure:"ftp_password"`
	FTPDir       string `mapstructure:"ftp_dir"`
}

// New builds the source selected by opts.Kind.
func New(ctx context.Context, opts Options) (Source, error) {
	switch opts.Kind {
	case KindDir, "":
		return NewDir(opts.Dir), nil
	case KindS3:
		return NewS3(ctx, S3Config{
			Bucket:          opts.Bucket,
			Prefix:          opts.Prefix,
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			UsePathStyle:    opts.UsePathStyle,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretKey,
		})
	case KindFTP:
		return NewFTP(FTPConfig{
			Addr:     opts.FTPAddr,
			User:     opts.FTPUser,
			Password: opts.FTPPassword,
			Dir:      opts.FTPDir,
		}), nil
	default:
		return nil, eris.Errorf("source: unknown kind %q", opts.Kind)
	}
}

// IsCSV reports whether name has a .csv extension, ignoring case.
func IsCSV(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}

func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
}
