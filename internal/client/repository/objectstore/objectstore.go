// Package objectstore is the object-store repository backend: one JSON object per
// entity type under a key prefix. It lets several devices share a local
// store through any S3-compatible service (AWS, MinIO).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/gophsync/internal/client/repository"
	"github.com/dmitrijs2005/gophsync/internal/entity"
)

// Options locate the bucket. Empty AccessKey falls back to the default AWS
// credential chain.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// objectAPI is the part of *s3.Client the backend calls.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

const checkTimeout = 3 * time.Second

type Repository struct {
	repository.Failer
	opts   Options
	client objectAPI
	mu     sync.Mutex
}

func New(opts Options, hook repository.FailHook) *Repository {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Repository{Failer: repository.Failer{Hook: hook}, opts: opts}
}

func (r *Repository) Name() string { return "s3" }

func (r *Repository) connect(ctx context.Context) error {
	if r.client != nil {
		return nil
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(r.opts.Region)}
	if r.opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(r.opts.AccessKey, r.opts.SecretKey, "")))
	}
	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return err
	}
	r.client = newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if r.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(r.opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

// IsSupported requires a configured bucket that answers HeadBucket.
func (r *Repository) IsSupported(ctx context.Context) bool {
	if r.opts.Bucket == "" {
		return false
	}
	if err := r.connect(ctx); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.opts.Bucket)})
	return err == nil
}

func (r *Repository) Init(ctx context.Context, _ []string) error {
	return r.Fail("Init", r.connect(ctx), r.opts.Bucket)
}

func (r *Repository) key(typ string) string {
	k := url.PathEscape(typ) + ".json"
	if r.opts.Prefix != "" {
		k = r.opts.Prefix + "/" + k
	}
	return k
}

func (r *Repository) typeFromKey(key string) (string, bool) {
	if r.opts.Prefix != "" {
		key = strings.TrimPrefix(key, r.opts.Prefix+"/")
	}
	name, ok := strings.CutSuffix(key, ".json")
	if !ok {
		return "", false
	}
	typ, err := url.PathUnescape(name)
	return typ, err == nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func (r *Repository) read(ctx context.Context, typ string) ([]*entity.Entity, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.opts.Bucket),
		Key:    aws.String(r.key(typ)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return []*entity.Entity{}, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return entity.DecodeList(typ, data)
}

func (r *Repository) write(ctx context.Context, typ string, list []*entity.Entity) error {
	data, err := entity.EncodeList(list)
	if err != nil {
		return err
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.opts.Bucket),
		Key:         aws.String(r.key(typ)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (r *Repository) update(ctx context.Context, op, typ string, fn func([]*entity.Entity) []*entity.Entity) error {
	if r.client == nil {
		return r.Fail(op, errNotInitialized, typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.read(ctx, typ)
	if err != nil {
		return r.Fail(op, err, typ)
	}
	return r.Fail(op, r.write(ctx, typ, fn(list)), typ)
}

func (r *Repository) GetList(ctx context.Context, typ string) ([]*entity.Entity, error) {
	if r.client == nil {
		return nil, r.Fail("GetList", errNotInitialized, typ)
	}
	list, err := r.read(ctx, typ)
	if err != nil {
		return nil, r.Fail("GetList", err, typ)
	}
	return list, nil
}

func (r *Repository) SaveList(ctx context.Context, typ string, items []*entity.Entity) error {
	if err := repository.ValidateType(typ); err != nil {
		return err
	}
	for _, it := range items {
		if err := repository.ValidateItem(typ, it); err != nil {
			return err
		}
	}
	return r.update(ctx, "SaveList", typ, func(list []*entity.Entity) []*entity.Entity {
		return entity.Upsert(list, items...)
	})
}

func (r *Repository) GetItem(ctx context.Context, typ string, id int64) (*entity.Entity, error) {
	list, err := r.GetList(ctx, typ)
	if err != nil {
		return nil, err
	}
	e, ok := entity.Find(list, id)
	if !ok {
		return nil, repository.NotFound(typ, id)
	}
	return e, nil
}

func (r *Repository) SaveItem(ctx context.Context, typ string, item *entity.Entity) error {
	return r.SaveList(ctx, typ, []*entity.Entity{item})
}

func (r *Repository) DeleteItem(ctx context.Context, typ string, id int64) error {
	return r.DeleteItems(ctx, typ, []int64{id})
}

func (r *Repository) DeleteItems(ctx context.Context, typ string, ids []int64) error {
	return r.update(ctx, "DeleteItems", typ, func(list []*entity.Entity) []*entity.Entity {
		return entity.RemoveIDs(list, ids...)
	})
}

func (r *Repository) deleteKey(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.opts.Bucket),
		Key:    aws.String(key),
	})
	return err
}

func (r *Repository) DeleteList(ctx context.Context, typ string) error {
	if r.client == nil {
		return r.Fail("DeleteList", errNotInitialized, typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Fail("DeleteList", r.deleteKey(ctx, r.key(typ)), typ)
}

func (r *Repository) listKeys(ctx context.Context, typePrefix string) ([]string, error) {
	prefix := url.PathEscape(typePrefix)
	if r.opts.Prefix != "" {
		prefix = r.opts.Prefix + "/" + prefix
	}
	var (
		keys  []string
		token *string
	)
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.opts.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (r *Repository) ClearEntireDatabase(ctx context.Context) error {
	if r.client == nil {
		return r.Fail("ClearEntireDatabase", errNotInitialized)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys, err := r.listKeys(ctx, "")
	if err != nil {
		return r.Fail("ClearEntireDatabase", err)
	}
	for _, k := range keys {
		if _, ok := r.typeFromKey(k); !ok {
			continue
		}
		if err := r.deleteKey(ctx, k); err != nil {
			return r.Fail("ClearEntireDatabase", err, k)
		}
	}
	return nil
}

func (r *Repository) GetLists(ctx context.Context, prefix string) (map[string][]*entity.Entity, error) {
	if r.client == nil {
		return nil, r.Fail("GetLists", errNotInitialized, prefix)
	}
	keys, err := r.listKeys(ctx, prefix)
	if err != nil {
		return nil, r.Fail("GetLists", err, prefix)
	}
	out := make(map[string][]*entity.Entity, len(keys))
	for _, k := range keys {
		typ, ok := r.typeFromKey(k)
		if !ok || !strings.HasPrefix(typ, prefix) {
			continue
		}
		list, err := r.read(ctx, typ)
		if err != nil {
			return nil, r.Fail("GetLists", err, typ)
		}
		out[typ] = list
	}
	return out, nil
}

func (r *Repository) Close() error { return nil }

var errNotInitialized = errors.New("s3 repository not initialized")
