package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"

	pipelineerrors "github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/errors"
)

// fakeS3 answers the path-style S3 calls the store makes. Listings are
// served in pages of pageSize keys.
type fakeS3 struct {
	mu       sync.Mutex
	pageSize int
	buckets  map[string]bool
	objects  map[string]string
	calls    []string
	bodies   map[string]string
	tokens   []string
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{
		pageSize: 2,
		buckets:  make(map[string]bool),
		objects:  make(map[string]string),
		bodies:   make(map[string]string),
	}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	f.mu.Lock()
	defer f.mu.Unlock()
	call := r.Method + " " + bucket
	if key != "" {
		call += "/" + key
	}
	f.calls = append(f.calls, call)
	f.bodies[call] = string(body)

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r, bucket)
	case key == "" && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
		}
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
	case r.Method == http.MethodHead:
		if _, ok := f.objects[bucket+"/"+key]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodGet:
		data, ok := f.objects[bucket+"/"+key]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		http.ServeContent(w, r, key, time.Time{}, strings.NewReader(data))
	case r.Method == http.MethodPut:
		f.objects[bucket+"/"+key] = string(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request, bucket string) {
	if !f.buckets[bucket] {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	var keys []string
	for k := range f.objects {
		if name, ok := strings.CutPrefix(k, bucket+"/"); ok {
			keys = append(keys, name)
		}
	}
	slices.Sort(keys)

	token := r.URL.Query().Get("continuation-token")
	f.tokens = append(f.tokens, token)
	start := 0
	if token != "" {
		fmt.Sscanf(token, "offset-%d", &start)
	}
	end := min(start+f.pageSize, len(keys))

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, "<Name>%s</Name><KeyCount>%d</KeyCount>", bucket, end-start)
	for _, k := range keys[start:end] {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[bucket+"/"+k]))
	}
	if end < len(keys) {
		fmt.Fprintf(&sb, "<IsTruncated>true</IsTruncated><NextContinuationToken>offset-%d</NextContinuationToken>", end)
	} else {
		sb.WriteString("<IsTruncated>false</IsTruncated>")
	}
	sb.WriteString("</ListBucketResult>")
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, sb.String())
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func (f *fakeS3) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.calls, call)
}

func (f *fakeS3) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeS3) body(call string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[call]
}

func (f *fakeS3) object(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func newTestStore(t *testing.T, fake *fakeS3, region string, skipExisting bool) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
		RetryMaxAttempts: 1,
	})
	return NewFromClient(client, region, skipExisting)
}

func TestListKeysFollowsEveryPage(t *testing.T) {
	fake := newFakeS3("src")
	for _, k := range []string{"c.txt", "a/b.txt", "d.txt", "e.txt", "f.txt"} {
		fake.objects["src/"+k] = "x"
	}
	store := newTestStore(t, fake, "eu-west-1", true)

	keys, err := store.ListKeys(context.Background(), "src")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if diff := cmp.Diff([]string{"a/b.txt", "c.txt", "d.txt", "e.txt", "f.txt"}, keys); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	fake.mu.Lock()
	tokens := slices.Clone(fake.tokens)
	fake.mu.Unlock()
	if diff := cmp.Diff([]string{"", "offset-2", "offset-4"}, tokens); diff != "" {
		t.Errorf("continuation tokens (-want +got):\n%s", diff)
	}
}

func TestListKeysMissingBucket(t *testing.T) {
	store := newTestStore(t, newFakeS3(), "eu-west-1", true)
	_, err := store.ListKeys(context.Background(), "nope")
	if !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("ListKeys error = %v, want ErrNotFound", err)
	}
}

func TestFetchWritesKeyPathAtomically(t *testing.T) {
	fake := newFakeS3("src")
	fake.objects["src/a/b.txt"] = "doc1 __max__ X 1 x X 1\n"
	store := newTestStore(t, fake, "eu-west-1", true)
	dest := t.TempDir()

	path, err := store.Fetch(context.Background(), "src", "a/b.txt", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := filepath.Join(dest, "a", "b.txt"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "doc1 __max__ X 1 x X 1\n" {
		t.Errorf("content = %q", data)
	}
	entries, err := os.ReadDir(filepath.Join(dest, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("download left extra files: %v", entries)
	}

	_, err = store.Fetch(context.Background(), "src", "missing.txt", dest)
	if !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("missing key error = %v, want ErrNotFound", err)
	}
	if _, statErr := os.Stat(filepath.Join(dest, "missing.txt")); !os.IsNotExist(statErr) {
		t.Errorf("failed fetch left a file: %v", statErr)
	}
}

func TestPutSkipsExistingObjects(t *testing.T) {
	fake := newFakeS3("dst")
	fake.objects["dst/beta"] = "beta old,0.5 "
	store := newTestStore(t, fake, "eu-west-1", true)

	dir := t.TempDir()
	for name, body := range map[string]string{"alpha": "alpha ,0.75 ", "beta": "beta new,1 "} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := store.Put(context.Background(), "dst", "alpha", filepath.Join(dir, "alpha"))
	if err != nil || res.Skipped {
		t.Fatalf("Put alpha = %+v, %v; want uploaded", res, err)
	}
	if !fake.called("HEAD dst/alpha") {
		t.Error("skip-existing did not issue HeadObject")
	}
	if got := fake.object("dst/alpha"); !strings.Contains(got, "alpha ,0.75 ") {
		t.Errorf("uploaded body = %q", got)
	}

	res, err = store.Put(context.Background(), "dst", "beta", filepath.Join(dir, "beta"))
	if err != nil || !res.Skipped {
		t.Fatalf("Put beta = %+v, %v; want skipped", res, err)
	}
	if fake.called("PUT dst/beta") || fake.object("dst/beta") != "beta old,0.5 " {
		t.Error("existing object was overwritten")
	}
}

func TestPutOverwritesWhenNotSkipping(t *testing.T) {
	fake := newFakeS3("dst")
	fake.objects["dst/beta"] = "beta old,0.5 "
	store := newTestStore(t, fake, "eu-west-1", false)
	path := filepath.Join(t.TempDir(), "beta")
	if err := os.WriteFile(path, []byte("beta new,1 "), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := store.Put(context.Background(), "dst", "beta", path)
	if err != nil || res.Skipped {
		t.Fatalf("Put = %+v, %v; want uploaded", res, err)
	}
	if fake.called("HEAD dst/beta") {
		t.Error("HeadObject issued with skip-existing off")
	}
	if got := fake.object("dst/beta"); !strings.Contains(got, "beta new,1 ") {
		t.Errorf("object = %q, want new content", got)
	}
}

func TestEnsureBucketCreatesWithLocationConstraint(t *testing.T) {
	fake := newFakeS3()
	store := newTestStore(t, fake, "eu-west-1", true)

	if err := store.EnsureBucket(context.Background(), "dst"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if diff := cmp.Diff([]string{"HEAD dst", "PUT dst"}, fake.callLog()); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if body := fake.body("PUT dst"); !strings.Contains(body, "<LocationConstraint>eu-west-1</LocationConstraint>") {
		t.Errorf("CreateBucket body = %q, want eu-west-1 location constraint", body)
	}

	if err := store.EnsureBucket(context.Background(), "dst"); err != nil {
		t.Fatalf("second EnsureBucket: %v", err)
	}
	if diff := cmp.Diff([]string{"HEAD dst", "PUT dst", "HEAD dst"}, fake.callLog()); diff != "" {
		t.Errorf("calls after existing bucket (-want +got):\n%s", diff)
	}
}

func TestEnsureBucketDefaultRegionOmitsConstraint(t *testing.T) {
	fake := newFakeS3()
	store := newTestStore(t, fake, defaultRegion, true)

	if err := store.EnsureBucket(context.Background(), "dst"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !fake.called("PUT dst") {
		t.Fatal("bucket not created")
	}
	if body := fake.body("PUT dst"); strings.Contains(body, "LocationConstraint") {
		t.Errorf("CreateBucket body = %q, want no location constraint in %s", body, defaultRegion)
	}
}

func TestCheckBucket(t *testing.T) {
	store := newTestStore(t, newFakeS3("src"), "eu-west-1", true)
	if err := store.CheckBucket(context.Background(), "src"); err != nil {
		t.Errorf("CheckBucket(src) = %v", err)
	}
	if err := store.CheckBucket(context.Background(), "nope"); !errors.Is(err, pipelineerrors.ErrNotFound) {
		t.Errorf("CheckBucket(nope) = %v, want ErrNotFound", err)
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"typed not found", &types.NotFound{}, true},
		{"no such key", fmt.Errorf("get: %w", &types.NoSuchKey{}), true},
		{"no such bucket", &types.NoSuchBucket{}, true},
		{"generic 404 code", &smithy.GenericAPIError{Code: "404"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Errorf("isNotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
