package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
	"github.com/iago/autoconnect-pipeline/internal/domain"
)

var ErrUnsupportedSource = errors.New("unsupported data source")

// Loader reads a whole dataset referenced by a job's data source.
type Loader interface {
	Load(ctx context.Context, source string) ([]domain.Transaction, error)
}

type SourceConfig struct {
	HTTPTimeout time.Duration

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// SourceLoader resolves local paths, file://, http(s):// and s3:// sources.
type SourceLoader struct {
	http *resty.Client
	cfg  SourceConfig

	s3Once   sync.Once
	s3Client *s3.Client
	s3Err    error
}

func NewSourceLoader(cfg SourceConfig) *SourceLoader {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}

	client := resty.New()
	client.SetTimeout(cfg.HTTPTimeout)
	client.SetHeader("Accept", "text/csv")

	return &SourceLoader{http: client, cfg: cfg}
}

func (l *SourceLoader) Load(ctx context.Context, source string) ([]domain.Transaction, error) {
	body, err := l.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	rows, err := DecodeCSV(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	return rows, nil
}

func (l *SourceLoader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrUnsupportedSource)
	}

	parsed, err := url.Parse(source)
	if err != nil || parsed.Scheme == "" {
		return openFile(source)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "file":
		return openFile(parsed.Path)
	case "http", "https":
		return l.openHTTP(ctx, source)
	case "s3":
		return l.openS3(ctx, parsed)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, parsed.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

func (l *SourceLoader) openHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	resp, err := l.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(source)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", source, err)
	}
	body := resp.RawBody()
	if resp.IsError() {
		if body != nil {
			body.Close()
		}
		return nil, fmt.Errorf("get %s: status %d", source, resp.StatusCode())
	}
	return body, nil
}

func (l *SourceLoader) openS3(ctx context.Context, location *url.URL) (io.ReadCloser, error) {
	bucket := location.Host
	key := strings.TrimPrefix(location.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 reference needs bucket and key", ErrUnsupportedSource)
	}

	client, err := l.s3()
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// s3 builds the client on first use so deployments without S3 sources never
// load AWS configuration.
func (l *SourceLoader) s3() (*s3.Client, error) {
	l.s3Once.Do(func() {
		options := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(l.cfg.S3Region),
		}
		if l.cfg.S3AccessKey != "" {
			options = append(options, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(l.cfg.S3AccessKey, l.cfg.S3SecretKey, ""),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), options...)
		if err != nil {
			l.s3Err = fmt.Errorf("load aws config: %w", err)
			return
		}
		l.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if l.cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(l.cfg.S3Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return l.s3Client, l.s3Err
}
