package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	raw, _ := io.ReadAll(params.Body)
	f.body = string(raw)
	return &s3.PutObjectOutput{}, f.err
}

func TestPutWritesUnderProviderPrefix(t *testing.T) {
	api := &fakeS3{}
	a := newS3(api, config.ArchiveConfig{Bucket: "giroflow-archive", Prefix: "shipments"}, nil)

	if err := a.Put(context.Background(), "providera", "DIRREM010224.060224.7", []byte("NY000010")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *api.input.Bucket != "giroflow-archive" {
		t.Fatalf("unexpected bucket %q", *api.input.Bucket)
	}
	if *api.input.Key != "shipments/providera/DIRREM010224.060224.7" {
		t.Fatalf("unexpected key %q", *api.input.Key)
	}
	if api.body != "NY000010" {
		t.Fatalf("unexpected body %q", api.body)
	}
}

func TestPutWrapsFailure(t *testing.T) {
	a := newS3(&fakeS3{err: errors.New("denied")}, config.ArchiveConfig{Bucket: "b"}, nil)
	err := a.Put(context.Background(), "providerb", "f", nil)
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNewWithoutBucketIsNoop(t *testing.T) {
	a, err := New(context.Background(), config.ArchiveConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", a)
	}
}
