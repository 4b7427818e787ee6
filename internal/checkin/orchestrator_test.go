package checkin

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/cache"
	"faceattend/internal/face"
	"faceattend/internal/profile"
	"faceattend/internal/tempimage"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeExtractor maps file contents to detected faces.
type fakeExtractor struct {
	mu    sync.Mutex
	faces map[string][]face.Description
	err   error
	calls int
}

func (f *fakeExtractor) Detect(_ context.Context, path string) ([]face.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	faces, ok := f.faces[string(data)]
	if !ok {
		return nil, face.ErrNoFaceDetected
	}
	return faces, nil
}

type failingLedger struct{}

func (failingLedger) Mark(context.Context, string) (attendance.Outcome, error) {
	return attendance.Outcome{}, errors.New("connection reset")
}

type failingProfiles struct{}

func (failingProfiles) Get(context.Context, string) (profile.Profile, error) {
	return profile.Profile{}, errors.New("db down")
}

func fullFace(shift float64) face.Description {
	conf := 0.9
	lconf := 0.8
	return face.Description{
		Landmarks: map[string]face.Point{
			face.LeftEye:  {X: 100 + shift, Y: 120},
			face.RightEye: {X: 160 + shift, Y: 120},
			face.Nose:     {X: 130 + shift, Y: 150},
		},
		Pose:                  &face.Pose{Pitch: 2, Roll: 1, Yaw: 4 + shift},
		Bounds:                &face.Bounds{X: 80 + shift, Y: 90, Width: 110, Height: 140},
		Likelihoods:           map[string]face.Likelihood{face.Joy: face.Likely},
		DetectionConfidence:   &conf,
		LandmarkingConfidence: &lconf,
		Descriptor:            []float32{0.1 + float32(shift), 0.2, 0.3},
	}
}

func dirEntries(dir string) int {
	entries, _ := os.ReadDir(dir)
	return len(entries)
}

func TestOrchestrator_Mark(t *testing.T) {
	Convey("Given an orchestrator with an enrolled user", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

		profiles := profile.NewMemoryStore()
		_, err := profiles.Put(ctx, profile.Profile{UserID: "u-1", Samples: []face.Description{fullFace(0)}, UpdatedAt: now})
		So(err, ShouldBeNil)

		ledgerStore := attendance.NewMemoryStore()
		ledger := attendance.NewService(ledgerStore, attendance.WithLocation(time.UTC), attendance.WithClock(func() time.Time { return now }))

		ex := &fakeExtractor{faces: map[string][]face.Description{
			"same-face":  {fullFace(0), fullFace(500)},
			"other-face": {fullFace(500)},
		}}
		scorer, err := face.NewScorer(face.StrategyDescriptor, face.DefaultConfig())
		So(err, ShouldBeNil)
		orch := New(profiles, ex, face.NewPolicy(scorer, face.DefaultMinConfidence), ledger, tempimage.NewFactory(dir))

		Convey("An identical sample matches with full confidence and checks in", func() {
			sample := fullFace(0)
			resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &sample})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeTrue)
			So(resp.Confidence, ShouldEqual, 100.0)
			So(resp.AlreadyMarked, ShouldBeFalse)
			So(resp.Transition, ShouldEqual, attendance.TransitionCheckIn)
			So(resp.Attendance, ShouldNotBeNil)
			So(resp.Attendance.Status, ShouldEqual, attendance.StatusPresent)
			So(resp.Attendance.CheckIn.Equal(now), ShouldBeTrue)
			So(resp.Attendance.CheckOut, ShouldBeNil)
			So(resp.Details["distance"], ShouldEqual, 0.0)

			Convey("The second and third matches check out, then report already marked", func() {
				resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &sample})
				So(err, ShouldBeNil)
				So(resp.Transition, ShouldEqual, attendance.TransitionCheckOut)
				So(resp.Attendance.CheckOut, ShouldNotBeNil)

				resp, err = orch.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &sample})
				So(err, ShouldBeNil)
				So(resp.IsMatch, ShouldBeTrue)
				So(resp.AlreadyMarked, ShouldBeTrue)
			})
		})

		Convey("An uploaded image uses the first detected face", func() {
			resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Image: strings.NewReader("same-face")})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeTrue)
			So(ex.calls, ShouldEqual, 1)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("A different face is a non-match and leaves the ledger alone", func() {
			resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Image: strings.NewReader("other-face")})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeFalse)
			So(resp.Attendance, ShouldBeNil)
			rec, err := ledger.Today(ctx, "u-1")
			So(err, ShouldBeNil)
			So(rec, ShouldBeNil)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("Missing input is rejected before anything else", func() {
			_, err := orch.Mark(ctx, MarkRequest{UserID: "u-1"})
			So(errors.Is(err, ErrInputMissing), ShouldBeTrue)

			_, err = orch.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &face.Description{}})
			So(errors.Is(err, ErrInputMissing), ShouldBeTrue)

			_, err = orch.Mark(ctx, MarkRequest{UserID: "u-1", Image: strings.NewReader("")})
			So(errors.Is(err, ErrInputMissing), ShouldBeTrue)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("A user without a profile gets ProfileNotFound", func() {
			sample := fullFace(0)
			_, err := orch.Mark(ctx, MarkRequest{UserID: "stranger", Sample: &sample})
			So(errors.Is(err, profile.ErrNotFound), ShouldBeTrue)
		})

		Convey("An image without a face is NoFaceDetected and cleaned up", func() {
			_, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Image: strings.NewReader("a wall")})
			So(errors.Is(err, face.ErrNoFaceDetected), ShouldBeTrue)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("Extractor outages are ExtractorFaults and cleaned up", func() {
			ex.err = errors.New("model not loaded")
			_, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Image: strings.NewReader("same-face")})
			So(errors.Is(err, ErrExtractor), ShouldBeTrue)
			So(errors.Is(err, ex.err), ShouldBeTrue)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("Ledger failures are StorageFaults", func() {
			failing := New(profiles, ex, face.NewPolicy(scorer, 0), failingLedger{}, tempimage.NewFactory(dir))
			_, err := failing.Mark(ctx, MarkRequest{UserID: "u-1", Image: bytes.NewReader([]byte("same-face"))})
			So(errors.Is(err, ErrStorage), ShouldBeTrue)
			So(dirEntries(dir), ShouldEqual, 0)
		})

		Convey("Profile store failures are StorageFaults", func() {
			failing := New(failingProfiles{}, ex, face.NewPolicy(scorer, 0), ledger, tempimage.NewFactory(dir))
			sample := fullFace(0)
			_, err := failing.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &sample})
			So(errors.Is(err, ErrStorage), ShouldBeTrue)
			So(errors.Is(err, profile.ErrNotFound), ShouldBeFalse)
		})
	})
}

func TestOrchestrator_EnrollmentImage(t *testing.T) {
	Convey("Given a profile that only references an enrollment image", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		var mu sync.Mutex
		var hits int
		served := func() int {
			mu.Lock()
			defer mu.Unlock()
			return hits
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			mu.Unlock()
			if r.URL.Path != "/u-2.jpg" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("same-face"))
		}))
		defer srv.Close()

		profiles := profile.NewMemoryStore()
		_, err := profiles.Put(ctx, profile.Profile{UserID: "u-2", ImageURL: srv.URL + "/u-2.jpg", UpdatedAt: time.Now()})
		So(err, ShouldBeNil)
		_, err = profiles.Put(ctx, profile.Profile{UserID: "u-3", ImageURL: srv.URL + "/gone.jpg", UpdatedAt: time.Now()})
		So(err, ShouldBeNil)

		ex := &fakeExtractor{faces: map[string][]face.Description{"same-face": {fullFace(0)}}}
		scorer, _ := face.NewScorer(face.StrategyDescriptor, face.DefaultConfig())
		c := cache.NewMemory()
		orch := New(profiles, ex, face.NewPolicy(scorer, 0), attendance.NewService(attendance.NewMemoryStore()), tempimage.NewFactory(dir), WithCache(c))

		sample := fullFace(0)

		Convey("The stored image is extracted once and then served from the cache", func() {
			resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-2", Sample: &sample})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeTrue)
			So(ex.calls, ShouldEqual, 1)
			So(served(), ShouldEqual, 1)

			_, err = orch.Mark(ctx, MarkRequest{UserID: "u-2", Sample: &sample})
			So(err, ShouldBeNil)
			So(ex.calls, ShouldEqual, 1)
			So(served(), ShouldEqual, 1)
			So(dirEntries(dir), ShouldEqual, 0)

			Convey("and re-extracted after invalidation", func() {
				So(c.Invalidate(ctx, "u-2"), ShouldBeNil)
				_, err := orch.Mark(ctx, MarkRequest{UserID: "u-2", Sample: &sample})
				So(err, ShouldBeNil)
				So(ex.calls, ShouldEqual, 2)
			})
		})

		Convey("Only the enrollment image extraction is cached", func() {
			_, err := orch.Mark(ctx, MarkRequest{UserID: "u-2", Image: strings.NewReader("same-face")})
			So(err, ShouldBeNil)
			cached, ok, _ := c.Get(ctx, "u-2", srv.URL+"/u-2.jpg")
			So(ok, ShouldBeTrue)
			So(len(cached), ShouldEqual, 1)
			So(c.Len(), ShouldEqual, 1)
		})

		Convey("An unreachable enrollment image is a StorageFault and leaves no files", func() {
			_, err := orch.Mark(ctx, MarkRequest{UserID: "u-3", Image: strings.NewReader("same-face")})
			So(errors.Is(err, ErrStorage), ShouldBeTrue)
			So(dirEntries(dir), ShouldEqual, 0)
		})
	})
}

// countingCache records how often a lookup was answered from the cache.
type countingCache struct {
	*cache.Memory
	mu   sync.Mutex
	hits int
}

func (c *countingCache) Get(ctx context.Context, userID, imageURL string) ([]face.Description, bool, error) {
	faces, ok, err := c.Memory.Get(ctx, userID, imageURL)
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
	}
	return faces, ok, err
}

func (c *countingCache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

type urlExtractor map[string][]face.Description

func (u urlExtractor) DetectURL(_ context.Context, url string) ([]face.Description, error) {
	if faces, ok := u[url]; ok {
		return faces, nil
	}
	return nil, face.ErrNoFaceDetected
}

func TestOrchestrator_ImageEnrollmentThroughCache(t *testing.T) {
	Convey("Given a user enrolled from an uploaded image", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte(strings.TrimPrefix(r.URL.Path, "/")))
		}))
		defer srv.Close()
		first, second := srv.URL+"/first-face", srv.URL+"/second-face"

		store := profile.NewMemoryStore()
		c := &countingCache{Memory: cache.NewMemory()}
		enroll := profile.NewService(store, profile.WithCache(c))
		remote := urlExtractor{first: {fullFace(0)}, second: {fullFace(500)}}

		p, err := enroll.EnrollFromImage(ctx, remote, "u-5", first, "att/first")
		So(err, ShouldBeNil)
		So(p.Samples, ShouldBeEmpty)

		ex := &fakeExtractor{faces: map[string][]face.Description{
			"first-face":  {fullFace(0)},
			"second-face": {fullFace(500)},
		}}
		scorer, _ := face.NewScorer(face.StrategyDescriptor, face.DefaultConfig())
		orch := New(store, ex, face.NewPolicy(scorer, 0), attendance.NewService(attendance.NewMemoryStore()), tempimage.NewFactory(dir), WithCache(c))
		sample := fullFace(0)

		Convey("verification downloads the image once and then reads the cache", func() {
			resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-5", Sample: &sample})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeTrue)
			So(ex.calls, ShouldEqual, 1)
			So(c.Hits(), ShouldEqual, 0)

			resp, err = orch.Mark(ctx, MarkRequest{UserID: "u-5", Sample: &sample})
			So(err, ShouldBeNil)
			So(resp.IsMatch, ShouldBeTrue)
			So(ex.calls, ShouldEqual, 1)
			So(c.Hits(), ShouldEqual, 1)
			So(dirEntries(dir), ShouldEqual, 0)

			Convey("a re-enrollment in another process is not answered from the stale entry", func() {
				elsewhere := profile.NewService(store)
				_, err := elsewhere.EnrollFromImage(ctx, remote, "u-5", second, "att/second")
				So(err, ShouldBeNil)

				resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-5", Sample: &sample})
				So(err, ShouldBeNil)
				So(resp.IsMatch, ShouldBeFalse)
				So(ex.calls, ShouldEqual, 2)
				So(c.Hits(), ShouldEqual, 1)
			})
		})
	})
}

func TestOrchestrator_EveryStrategy(t *testing.T) {
	for _, s := range face.Strategies {
		s := s
		t.Run(string(s), func(t *testing.T) {
			Convey("An identical sample matches at maximum confidence", t, func() {
				ctx := context.Background()
				profiles := profile.NewMemoryStore()
				_, err := profiles.Put(ctx, profile.Profile{UserID: "u-1", Samples: []face.Description{fullFace(0)}, UpdatedAt: time.Now()})
				So(err, ShouldBeNil)

				scorer, err := face.NewScorer(s, face.DefaultConfig())
				So(err, ShouldBeNil)
				orch := New(profiles, &fakeExtractor{}, face.NewPolicy(scorer, face.DefaultMinConfidence),
					attendance.NewService(attendance.NewMemoryStore()), tempimage.NewFactory(t.TempDir()))

				sample := fullFace(0)
				resp, err := orch.Mark(ctx, MarkRequest{UserID: "u-1", Sample: &sample})
				So(err, ShouldBeNil)
				So(resp.IsMatch, ShouldBeTrue)
				So(resp.Strategy, ShouldEqual, s)
				So(resp.Confidence, ShouldAlmostEqual, 100, 1e-9)
				So(resp.Attendance.State(), ShouldEqual, attendance.StateCheckedIn)
			})
		})
	}
}
