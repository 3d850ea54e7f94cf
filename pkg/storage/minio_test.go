package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func TestPresignedURLIsSignedForObject(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}
	store := NewObjectStore(client, "chat-transcripts", 15*time.Minute)

	raw, err := store.PresignedURL(context.Background(), "transcripts/u1/s1.json")
	if err != nil {
		t.Fatalf("PresignedURL returned error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	if u.Path != "/chat-transcripts/transcripts/u1/s1.json" {
		t.Errorf("unexpected path %s", u.Path)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "900" {
		t.Errorf("unexpected query %s", u.RawQuery)
	}
	if !strings.HasPrefix(raw, "http://localhost:9000/") {
		t.Errorf("unexpected endpoint in %s", raw)
	}
}

func TestNewObjectStoreDefaultsExpiry(t *testing.T) {
	if s := NewObjectStore(nil, "b", 0); s.expiry != time.Hour {
		t.Errorf("expected default expiry of one hour, got %v", s.expiry)
	}
}
