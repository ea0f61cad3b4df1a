package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/config"
	errs "github.com/techagentng/citizenchat/errors"
	"github.com/techagentng/citizenchat/models"
)

const thumbnailSize = 320

// ObjectUploader is the part of the S3 client used for attachments.
type ObjectUploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AttachmentService stores files that messages reference in their metadata.
type AttachmentService interface {
	Upload(ctx context.Context, userID uint, name string, r io.Reader) (*models.Attachment, error)
}

type attachmentService struct {
	Config   *config.Config
	uploader ObjectUploader
}

func NewAttachmentService(uploader ObjectUploader, conf *config.Config) AttachmentService {
	return &attachmentService{Config: conf, uploader: uploader}
}

// NewS3Client builds an S3 client from the configured region and keys. Without
// static keys the default credential chain is used.
func NewS3Client(ctx context.Context, conf *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(conf.AWSRegion)}
	if conf.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config, %v", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (s *attachmentService) Upload(ctx context.Context, userID uint, name string, r io.Reader) (*models.Attachment, error) {
	if s.uploader == nil || s.Config.AWSBucket == "" {
		return nil, errs.New("attachments are not configured", http.StatusServiceUnavailable)
	}

	limit := s.Config.MaxAttachmentSize
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errs.Internal("failed to read attachment", err)
	}
	if len(data) == 0 {
		return nil, errs.InvalidInput("attachment is empty")
	}
	if int64(len(data)) > limit {
		return nil, errs.InvalidInput(fmt.Sprintf("attachment exceeds %d bytes", limit))
	}

	mtype := mimetype.Detect(data)
	msgType := models.MessageFile
	if strings.HasPrefix(mtype.String(), "image/") {
		msgType = models.MessageImage
	}

	base := fmt.Sprintf("chat/%d/%s", userID, uuid.New().String())
	key := base + mtype.Extension()
	url, err := s.put(ctx, key, data, mtype.String())
	if err != nil {
		return nil, errs.Internal("failed to upload attachment", err)
	}

	att := &models.Attachment{
		URL:         url,
		Name:        filepath.Base(name),
		MimeType:    mtype.String(),
		Size:        int64(len(data)),
		MessageType: msgType,
	}
	if msgType == models.MessageImage {
		att.ThumbnailURL = s.thumbnail(ctx, base, data)
	}
	return att, nil
}

// thumbnail uploads a small JPEG preview. Formats imaging cannot decode get
// no thumbnail.
func (s *attachmentService) thumbnail(ctx context.Context, base string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Printf("Error decoding image for thumbnail: %v", err)
		return ""
	}
	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		log.Printf("Error encoding thumbnail: %v", err)
		return ""
	}
	url, err := s.put(ctx, base+"_thumb.jpg", buf.Bytes(), "image/jpeg")
	if err != nil {
		log.Printf("Error uploading thumbnail: %v", err)
		return ""
	}
	return url
}

func (s *attachmentService) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Config.AWSBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put %s", key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.Config.AWSBucket, s.Config.AWSRegion, key), nil
}
