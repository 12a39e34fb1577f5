package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/ved-shetye/SyncScript/core"
)

// s3Store keeps documents and users as JSON objects in a bucket, under
// documents/ and users/ prefixes. The bucket is the source of truth for
// last-write-wins: whichever PutObject lands last is what later reads see.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// storedUser carries the password hash, which core.User hides from JSON.
type storedUser struct {
	core.User
	PasswordHash string `json:"passwordHash"`
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// objectKey sanitizes id to prevent path traversal in object keys.
func objectKey(prefix, id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid object id %q", id)
	}
	return path.Join(prefix, id), nil
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %v", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %v", key, err)
	}
	return nil
}

func (s *s3Store) readDocument(ctx context.Context, id string) (*core.Document, error) {
	key, err := objectKey("documents", id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s: %v", id, err)
	}
	return &doc, nil
}

func (s *s3Store) writeDocument(ctx context.Context, doc *core.Document) error {
	key, err := objectKey("documents", doc.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %v", err)
	}
	return s.putObject(ctx, key, data)
}

// DocumentStore implementation

func (s *s3Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	now := time.Now()
	document.ID = id
	document.CreatedAt = now
	document.UpdatedAt = now
	if err := s.writeDocument(ctx, document); err != nil {
		return "", err
	}
	return id, nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	return s.readDocument(ctx, id)
}

func (s *s3Store) SaveContent(ctx context.Context, id string, content json.RawMessage) (*core.Document, error) {
	doc, err := s.readDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	if err := s.writeDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *s3Store) Update(ctx context.Context, id string, upd core.DocumentUpdate) (*core.Document, error) {
	doc, err := s.readDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Content != nil {
		doc.Content = upd.Content
	}
	doc.UpdatedAt = time.Now()
	if err := s.writeDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *s3Store) AddCollaborator(ctx context.Context, id string, subject string) (*core.Document, error) {
	doc, err := s.readDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.AccessibleBy(subject) {
		doc.Collaborators = append(doc.Collaborators, subject)
		doc.UpdatedAt = time.Now()
		if err := s.writeDocument(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *s3Store) ListByUser(ctx context.Context, subject string) ([]*core.Document, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("documents/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}

	docs := []*core.Document{}
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		var doc core.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Printf("warn: failed to unmarshal document %s: %v", *object.Key, err)
			continue
		}
		if doc.AccessibleBy(subject) {
			doc.Content = nil
			docs = append(docs, &doc)
		}
	}
	return docs, nil
}

// UserStore implementation

func (s *s3Store) CreateUser(ctx context.Context, user *core.User) error {
	key, err := objectKey("users", user.Subject)
	if err != nil {
		return err
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	data, err := json.Marshal(storedUser{*user, user.PasswordHash})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	return s.putObject(ctx, key, data)
}

func (s *s3Store) FindUserBySubject(ctx context.Context, subject string) (*core.User, error) {
	key, err := objectKey("users", subject)
	if err != nil {
		return nil, core.ErrNotFound
	}
	data, err := s.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return unmarshalUser(data)
}

func (s *s3Store) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("users/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			continue
		}
		user, err := unmarshalUser(data)
		if err != nil {
			continue
		}
		if user.Email == email {
			return user, nil
		}
	}
	return nil, core.ErrNotFound
}

func unmarshalUser(data []byte) (*core.User, error) {
	var stored storedUser
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %v", err)
	}
	user := stored.User
	user.PasswordHash = stored.PasswordHash
	return &user, nil
}
