package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"whiteboard-backend/internal/config"
)

// S3Service AWS S3 오브젝트 저장소
type S3Service struct {
	client        *s3.Client
	presign       *s3.PresignClient
	bucket        string
	region        string
	presignExpiry time.Duration
}

// PresignedURL 업로드/다운로드용 서명 URL
type PresignedURL struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewS3Service S3 클라이언트 생성
func NewS3Service(cfg *config.S3Config) (*S3Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3Service{
		client:        client,
		presign:       s3.NewPresignClient(client),
		bucket:        cfg.BucketName,
		region:        cfg.Region,
		presignExpiry: expiry,
	}, nil
}

// PutObject 오브젝트 업로드
func (s *S3Service) PutObject(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		log.Printf("[S3] put %s failed: %v", key, err)
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetObject 오브젝트 다운로드
func (s *S3Service) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// URL 공개 URL 반환 (버킷 정책에 따라 접근 가능 여부가 달라짐)
func (s *S3Service) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// GenerateDownloadURL 다운로드용 Presigned GET URL 생성
func (s *S3Service) GenerateDownloadURL(ctx context.Context, key string) (*PresignedURL, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign get %s: %w", key, err)
	}
	return &PresignedURL{URL: req.URL, Key: key, ExpiresAt: time.Now().Add(s.presignExpiry)}, nil
}
