package files

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Test packs larger than this are rejected.
const maxPackSize = 64 << 20

type FileStorage struct {
	cl     *minio.Client
	Bucket string
}

type Config struct {
	Url      string
	Login    string
	Password string
	Bucket   string
	Secure   bool
}

func NewFileStorage(cfg Config) (*FileStorage, error) {
	client, err := minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Login, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	return &FileStorage{cl: client, Bucket: cfg.Bucket}, nil
}

func (s *FileStorage) GetFile(ctx context.Context, filename string) (io.ReadCloser, error) {
	file, err := s.cl.GetObject(ctx, s.Bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// LoadTests fetches a JSON array of test cases. Objects ending in .zst are
// zstd-compressed.
func (s *FileStorage) LoadTests(ctx context.Context, name string) ([]models.TestCase, error) {
	file, err := s.GetFile(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", name)
	}
	defer file.Close()
	return DecodeTests(file, strings.HasSuffix(name, ".zst"))
}

func DecodeTests(r io.Reader, compressed bool) ([]models.TestCase, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open zstd stream")
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(io.LimitReader(r, maxPackSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read test pack")
	}
	if len(data) > maxPackSize {
		return nil, errors.New("test pack too large")
	}
	var tests []models.TestCase
	if err := json.Unmarshal(data, &tests); err != nil {
		return nil, errors.Wrap(err, "invalid test pack")
	}
	return tests, nil
}
