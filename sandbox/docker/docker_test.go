package docker_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	sandboxdocker "github.com/covalt-run/flowruntime/sandbox/docker"
)

// fakeClient scripts one container lifecycle: the script it's told to run
// is ignored, and it always reports the stdout/exit code configured on it,
// since exercising the real Node.js toolchain isn't available in tests.
type fakeClient struct {
	stdout     string
	stderr     string
	statusCode int64
	createErr  error
	waitErr    error

	lastConfig *container.Config
	removed    bool
}

func encodeStdcopy(stdout, stderr string) []byte {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	_, _ = w.Write([]byte(stdout))
	w = stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	_, _ = w.Write([]byte(stderr))
	return buf.Bytes()
}

func (f *fakeClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.lastConfig = config
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "container1"}, nil
}

func (f *fakeClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
		return waitCh, errCh
	}
	waitCh <- container.WaitResponse{StatusCode: f.statusCode}
	return waitCh, errCh
}

func (f *fakeClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(encodeStdcopy(f.stdout, f.stderr))), nil
}

func (f *fakeClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed = true
	return nil
}

func TestEvalReturnsParsedJSONResult(t *testing.T) {
	fake := &fakeClient{stdout: `{"doubled":4}`, statusCode: 0}
	sandbox := sandboxdocker.New(fake, sandboxdocker.Options{})

	result, err := sandbox.Eval(context.Background(), "return {doubled: $input.n * 2}", map[string]any{"n": 2}, nil, nil)
	require.NoError(t, err)
	require.True(t, fake.removed)
	require.Equal(t, map[string]any{"doubled": float64(4)}, result)
}

func TestEvalNonZeroExitReturnsStderr(t *testing.T) {
	fake := &fakeClient{stderr: "ReferenceError: x is not defined", statusCode: 1}
	sandbox := sandboxdocker.New(fake, sandboxdocker.Options{})

	_, err := sandbox.Eval(context.Background(), "return x", nil, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReferenceError")
}

func TestEvalPropagatesCreateError(t *testing.T) {
	fake := &fakeClient{createErr: context.DeadlineExceeded}
	sandbox := sandboxdocker.New(fake, sandboxdocker.Options{})

	_, err := sandbox.Eval(context.Background(), "return 1", nil, nil, nil)
	require.Error(t, err)
}

func TestEvalNonJSONStdoutErrors(t *testing.T) {
	fake := &fakeClient{stdout: "not json", statusCode: 0}
	sandbox := sandboxdocker.New(fake, sandboxdocker.Options{})

	_, err := sandbox.Eval(context.Background(), "return 1", nil, nil, nil)
	require.Error(t, err)
}

func TestNewDefaultsImageAndTimeout(t *testing.T) {
	fake := &fakeClient{stdout: "null", statusCode: 0}
	sandbox := sandboxdocker.New(fake, sandboxdocker.Options{})

	_, err := sandbox.Eval(context.Background(), "return null", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "node:20-alpine", fake.lastConfig.Image)
}
