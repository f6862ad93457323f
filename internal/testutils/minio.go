//go:build integration

package testutils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// Minio is a throwaway Minio server with one bucket, reachable through
// gocloud s3:// URLs.
type Minio struct {
	Endpoint string
	Bucket   string
}

// StartMinio starts Minio and creates bucket. The container is removed
// when the test ends. AWS credentials are set in the environment for the
// duration of the test.
func StartMinio(t *testing.T, bucket string) *Minio {
	t.Helper()
	ctx := context.Background()

	netName := fmt.Sprintf("gulp-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}
	t.Cleanup(func() { server.Terminate(ctx) })

	// The mc client runs once on the same network and exits.
	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf("mc alias set local http://minio:9000 %s %s && mc mb local/%s",
				minioUser, minioPassword, bucket)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}
	mc.Terminate(ctx)

	host, err := server.Host(ctx)
	if err != nil {
		t.Fatalf("minio host: %v", err)
	}
	port, err := server.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("minio port: %v", err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &Minio{
		Endpoint: fmt.Sprintf("%s:%s", host, port.Port()),
		Bucket:   bucket,
	}
}

// URL returns the gocloud URL of the bucket.
func (m *Minio) URL() string {
	return fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		m.Bucket, m.Endpoint)
}

// RequireObject fails the test unless the object at key holds want. The
// object is compared in chunks so large objects are never held twice.
func (m *Minio) RequireObject(t *testing.T, key string, want []byte) {
	t.Helper()
	ctx := context.Background()

	b, err := blob.OpenBucket(ctx, m.URL())
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer b.Close()

	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer r.Close()

	if r.Size() != int64(len(want)) {
		t.Fatalf("%s: size %d, want %d", key, r.Size(), len(want))
	}

	buf := make([]byte, 1<<20)
	var off int
	for off < len(want) {
		n, err := io.ReadFull(r, buf[:min(len(buf), len(want)-off)])
		if !bytes.Equal(buf[:n], want[off:off+n]) {
			t.Fatalf("%s: content differs in the MiB starting at offset %d", key, off)
		}
		off += n
		if err != nil {
			t.Fatalf("%s: read at offset %d: %v", key, off, err)
		}
	}
}
