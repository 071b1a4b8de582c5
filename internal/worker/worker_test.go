package worker_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/testutil"
	"sharp-job-service/internal/usage"
	"sharp-job-service/internal/worker"
)

const storeRoot = "/data"

// gaussianPLY is a two-point little-endian cloud with SH DC color.
func gaussianPLY(withColor bool) []byte {
	props := []string{"x", "y", "z", "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3"}
	if withColor {
		props = append(props, "f_dc_0", "f_dc_1", "f_dc_2")
	}
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 2\n")
	for _, p := range props {
		fmt.Fprintf(&buf, "property float %s\n", p)
	}
	buf.WriteString("end_header\n")
	for i := 0; i < 2; i++ {
		for range props {
			_ = binary.Write(&buf, binary.LittleEndian, float32(i))
		}
	}
	return buf.Bytes()
}

// fakeInferencer writes a point cloud named outName into the output dir.
type fakeInferencer struct {
	store   *artifact.Store
	outName string
	data    []byte
	delay   time.Duration
	err     error
	panic   bool
	calls   atomic.Int32
}

func (f *fakeInferencer) Infer(ctx context.Context, imagePath, outputDir string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panic {
		panic("model exploded")
	}
	if f.err != nil {
		return f.err
	}
	rel, err := filepath.Rel(storeRoot, outputDir)
	if err != nil {
		return err
	}
	_, err = f.store.Write(filepath.ToSlash(filepath.Join(rel, f.outName)), bytes.NewReader(f.data))
	return err
}

type fixture struct {
	jobs    *testutil.JobStore
	uploads *testutil.UploadStore
	queue   *testutil.Queue
	store   *artifact.Store
	infer   *fakeInferencer
	usage   *testutil.CompletionLog
	proc    *worker.Processor
	upload  entity.Upload
}

func newFixture(t *testing.T, cfg worker.ProcessorConfig) *fixture {
	t.Helper()
	store, err := artifact.NewStore(afero.NewMemMapFs(), storeRoot)
	require.NoError(t, err)

	up := entity.Upload{ID: uuid.New(), Filename: "cat.png", CreatedAt: time.Now()}
	up.Path = artifact.UploadPath(up.ID, ".png")
	_, err = store.Write(up.Path, strings.NewReader("png"))
	require.NoError(t, err)

	f := &fixture{
		jobs:    testutil.NewJobStore(),
		uploads: testutil.NewUploadStore(up),
		queue:   testutil.NewQueue(),
		store:   store,
		infer:   &fakeInferencer{store: store, outName: "model_output.ply", data: gaussianPLY(true)},
		usage:   &testutil.CompletionLog{},
		upload:  up,
	}
	reader := artifact.NewReader(store, 2, time.Millisecond)
	f.proc = worker.NewProcessor(f.jobs, f.uploads, f.infer, store, reader, usage.NewAggregator(f.usage), cfg)
	return f
}

func (f *fixture) addJob(t *testing.T) uuid.UUID {
	t.Helper()
	job := &entity.Job{ID: uuid.New(), UploadID: f.upload.ID, QueuePosition: 1, EstimatedWaitSeconds: 45, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(context.Background(), job))
	return job.ID
}

func TestProcessor_Success(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3, WriteSplat: true})
	id := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))

	job, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusComplete, job.Status)
	require.NotNil(t, job.ResultRef)
	assert.Equal(t, "outputs/"+id.String()+"/splat.ply", *job.ResultRef)
	assert.Equal(t, 0, job.QueuePosition)
	require.NotNil(t, job.ProcessingTimeMs)

	data, err := f.store.ReadFile(*job.ResultRef)
	require.NoError(t, err)
	assert.Contains(t, string(data), "property uchar red")
	assert.Contains(t, string(data), "property uchar alpha")

	ok, err := f.store.Exists(artifact.OutputPath(id, artifact.SplatFile))
	require.NoError(t, err)
	assert.True(t, ok)

	_, total, _ := f.usage.Load(context.Background())
	assert.Equal(t, int64(1), total)
}

func TestProcessor_NoSHColorStillCompletes(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.data = gaussianPLY(false)
	id := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusComplete, job.Status)
}

func TestProcessor_InferenceFailureRecorded(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.err = fmt.Errorf("%w: %s", entity.ErrCollaboratorFailure, strings.Repeat("x", 5000))
	id := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.LessOrEqual(t, len(*job.Error), 2000)
	assert.Contains(t, *job.Error, "collaborator failure")

	_, total, _ := f.usage.Load(context.Background())
	assert.Zero(t, total)
}

func TestProcessor_TimeoutRecorded(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.err = fmt.Errorf("inference after 600s: %w", entity.ErrTimeout)
	id := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusError, job.Status)
	assert.Contains(t, *job.Error, "timed out")
}

func TestProcessor_PanicReleasesSlot(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 1})
	f.infer.panic = true
	first := f.addJob(t)
	second := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), first.String()))
	job, _ := f.jobs.GetByID(context.Background(), first)
	assert.Equal(t, entity.StatusError, job.Status)
	assert.Contains(t, *job.Error, "internal error")

	// the single slot is free again
	f.infer.panic = false
	require.NoError(t, f.proc.Execute(context.Background(), second.String()))
	job, _ = f.jobs.GetByID(context.Background(), second)
	assert.Equal(t, entity.StatusComplete, job.Status)
}

func TestProcessor_MissingOutput(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.outName = "log.txt"
	id := f.addJob(t)

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusError, job.Status)
	assert.Contains(t, *job.Error, "no PLY output")
}

func TestProcessor_SkipsNonQueued(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	id := uuid.New()
	f.jobs.Put(&entity.Job{ID: id, UploadID: f.upload.ID, Status: entity.StatusComplete})

	require.NoError(t, f.proc.Execute(context.Background(), id.String()))
	assert.Zero(t, f.infer.calls.Load())
}

func TestProcessor_NoSlot(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 1})
	busy := uuid.New()
	f.jobs.Put(&entity.Job{ID: busy, UploadID: f.upload.ID, Status: entity.StatusProcessing})
	id := f.addJob(t)

	err := f.proc.Execute(context.Background(), id.String())
	assert.ErrorIs(t, err, entity.ErrNoSlot)

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusQueued, job.Status)
}

func TestProcessor_MalformedID(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	err := f.proc.Execute(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestPool_NeverExceedsCeiling(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.delay = 20 * time.Millisecond

	const n = 10
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = f.addJob(t)
		require.NoError(t, f.queue.Enqueue(context.Background(), ids[i].String()))
	}

	var after atomic.Int32
	pool := worker.NewPool(f.queue, f.proc, 6,
		worker.WithClaimDelay(10*time.Millisecond),
		worker.WithRetryDelay(5*time.Millisecond),
		worker.WithAfterJob(func() { after.Add(1) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, j := range f.jobs.All() {
			if j.Status != entity.StatusComplete {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()

	assert.LessOrEqual(t, f.jobs.MaxProcessing(), 3)
	assert.Len(t, f.queue.Acked(), n)
	assert.Equal(t, int32(n), after.Load())
}

func TestPool_DrainsInFlightOnShutdown(t *testing.T) {
	f := newFixture(t, worker.ProcessorConfig{Ceiling: 3})
	f.infer.delay = 100 * time.Millisecond
	id := f.addJob(t)
	require.NoError(t, f.queue.Enqueue(context.Background(), id.String()))

	pool := worker.NewPool(f.queue, f.proc, 1, worker.WithClaimDelay(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.infer.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	job, _ := f.jobs.GetByID(context.Background(), id)
	assert.Equal(t, entity.StatusComplete, job.Status)
}

func TestReaper_Sweep(t *testing.T) {
	jobs := testutil.NewJobStore()
	queue := testutil.NewQueue()

	old := time.Now().Add(-time.Hour)
	stale := uuid.New()
	fresh := uuid.New()
	jobs.Put(&entity.Job{ID: stale, Status: entity.StatusProcessing, StartedAt: &old})
	now := time.Now()
	jobs.Put(&entity.Job{ID: fresh, Status: entity.StatusProcessing, StartedAt: &now})

	require.NoError(t, queue.Enqueue(context.Background(), "orphan"))
	_, err := queue.ClaimBlocking(context.Background(), time.Second)
	require.NoError(t, err)

	r := worker.NewReaper(queue, jobs, time.Minute, 11*time.Minute)
	r.Sweep(context.Background())

	assert.Equal(t, []string{"orphan"}, queue.Pending())
	j, _ := jobs.GetByID(context.Background(), stale)
	assert.Equal(t, entity.StatusError, j.Status)
	assert.Equal(t, "worker lost", *j.Error)
	j, _ = jobs.GetByID(context.Background(), fresh)
	assert.Equal(t, entity.StatusProcessing, j.Status)
}

type countingPasser struct {
	calls atomic.Int32
}

func (c *countingPasser) AdmissionPass(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestAdmitter_TriggerRunsPass(t *testing.T) {
	svc := &countingPasser{}
	a := worker.NewAdmitter(svc, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	// initial pass on start
	require.Eventually(t, func() bool { return svc.calls.Load() == 1 }, time.Second, time.Millisecond)

	a.Trigger()
	require.Eventually(t, func() bool { return svc.calls.Load() >= 2 }, time.Second, time.Millisecond)
}
