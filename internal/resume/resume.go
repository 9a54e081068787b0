package resume

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("unsupported resume content type")
	ErrNotConfigured   = errors.New("resume storage is not configured")
)

var allowedTypes = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// Upload is a short-lived URL a candidate PUTs their resume to.
type Upload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	UploadURL(ctx context.Context, candidateID, contentType string) (*Upload, error)
	DownloadURL(ctx context.Context, key string) (string, error)
	// Owns reports whether key was issued to candidateID.
	Owns(candidateID, key string) bool
}

type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	TTL      time.Duration
	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

type S3Store struct {
	svc    *s3.S3
	bucket string
	ttl    time.Duration
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	awsCfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.Endpoint != "" {
		awsCfg.Endpoint = aws.String(opts.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3Store{svc: s3.New(sess), bucket: opts.Bucket, ttl: opts.TTL}, nil
}

func keyPrefix(candidateID string) string {
	return "resumes/" + candidateID + "/"
}

func (s *S3Store) UploadURL(ctx context.Context, candidateID, contentType string) (*Upload, error) {
	ext, ok := allowedTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return nil, ErrUnsupportedType
	}
	key := keyPrefix(candidateID) + uuid.NewString() + ext

	req, _ := s.svc.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)
	url, err := req.Presign(s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}
	return &Upload{URL: url, Key: key, Method: "PUT", ExpiresAt: time.Now().Add(s.ttl).UTC()}, nil
}

func (s *S3Store) DownloadURL(ctx context.Context, key string) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	url, err := req.Presign(s.ttl)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return url, nil
}

func (s *S3Store) Owns(candidateID, key string) bool {
	return ownsKey(candidateID, key)
}

func ownsKey(candidateID, key string) bool {
	if candidateID == "" || key == "" {
		return false
	}
	return path.Clean(key) == key && strings.HasPrefix(key, keyPrefix(candidateID))
}
