package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"faceattend/internal/face"

	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

type fakeCache struct{ recorder }

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.add(userID)
	return nil
}

type fakeImages struct {
	recorder
	err error
}

func (i *fakeImages) Destroy(_ context.Context, publicID string) error {
	i.add(publicID)
	return i.err
}

type fakeExtractor struct {
	faces []face.Description
	err   error
}

func (f fakeExtractor) DetectURL(context.Context, string) ([]face.Description, error) {
	return f.faces, f.err
}

type failingPut struct {
	*MemoryStore
	err error
}

func (f failingPut) Put(context.Context, Profile) (Profile, error) {
	return Profile{}, f.err
}

func sample(v ...float32) face.Description {
	return face.Description{Descriptor: v}
}

func TestService_Enroll(t *testing.T) {
	Convey("Given an enrollment service", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
		cache := &fakeCache{}
		images := &fakeImages{}
		svc := NewService(NewMemoryStore(),
			WithCache(cache),
			WithImageStore(images),
			WithClock(func() time.Time { return now }),
		)

		Convey("Get before enrollment is ErrNotFound", func() {
			_, err := svc.Get(ctx, "u-1")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Enroll stores non-empty samples and invalidates the cache", func() {
			p, err := svc.Enroll(ctx, "u-1", []face.Description{sample(0.1, 0.2), {}})
			So(err, ShouldBeNil)
			So(len(p.Samples), ShouldEqual, 1)
			So(p.Enrolled(), ShouldBeTrue)
			So(p.UpdatedAt, ShouldEqual, now)
			So(cache.calls, ShouldResemble, []string{"u-1"})

			Convey("Re-enrollment replaces the samples wholesale", func() {
				now = now.Add(time.Hour)
				p2, err := svc.Enroll(ctx, "u-1", []face.Description{sample(0.9), sample(0.8)})
				So(err, ShouldBeNil)
				So(len(p2.Samples), ShouldEqual, 2)
				So(p2.CreatedAt, ShouldEqual, p.CreatedAt)

				got, err := svc.Get(ctx, "u-1")
				So(err, ShouldBeNil)
				So(got.Samples[0].Descriptor, ShouldResemble, []float32{0.9})
				So(len(cache.calls), ShouldEqual, 2)
			})
		})

		Convey("Enroll without usable samples fails", func() {
			_, err := svc.Enroll(ctx, "u-1", []face.Description{{}})
			So(errors.Is(err, ErrNoSamples), ShouldBeTrue)
			So(cache.calls, ShouldBeEmpty)
		})

		Convey("Enrolling from an image", func() {
			ex := fakeExtractor{faces: []face.Description{sample(0.3, 0.4)}}
			p, err := svc.EnrollFromImage(ctx, ex, "u-2", "https://img/one.jpg", "att/one")
			So(err, ShouldBeNil)
			So(p.ImagePublicID, ShouldEqual, "att/one")
			So(p.ImageURL, ShouldEqual, "https://img/one.jpg")
			So(p.Samples, ShouldBeEmpty)
			So(p.Enrolled(), ShouldBeTrue)
			So(images.calls, ShouldBeEmpty)
			So(cache.calls, ShouldResemble, []string{"u-2"})

			Convey("a new image destroys the previous one", func() {
				_, err := svc.EnrollFromImage(ctx, ex, "u-2", "https://img/two.jpg", "att/two")
				So(err, ShouldBeNil)
				So(images.calls, ShouldResemble, []string{"att/one"})
			})

			Convey("sync enrollment also releases the image", func() {
				p, err := svc.Enroll(ctx, "u-2", []face.Description{sample(1)})
				So(err, ShouldBeNil)
				So(p.ImageURL, ShouldBeEmpty)
				So(images.calls, ShouldResemble, []string{"att/one"})
			})

			Convey("a destroy failure does not fail the enrollment", func() {
				images.err = errors.New("cloud down")
				_, err := svc.EnrollFromImage(ctx, ex, "u-2", "https://img/two.jpg", "att/two")
				So(err, ShouldBeNil)
			})
		})

		Convey("An image with no face is discarded and the old profile kept", func() {
			_, err := svc.Enroll(ctx, "u-3", []face.Description{sample(0.5)})
			So(err, ShouldBeNil)

			_, err = svc.EnrollFromImage(ctx, fakeExtractor{}, "u-3", "https://img/blank.jpg", "att/blank")
			So(errors.Is(err, face.ErrNoFaceDetected), ShouldBeTrue)
			So(images.calls, ShouldResemble, []string{"att/blank"})

			got, err := svc.Get(ctx, "u-3")
			So(err, ShouldBeNil)
			So(got.Samples[0].Descriptor, ShouldResemble, []float32{0.5})
		})

		Convey("Extractor failures are wrapped", func() {
			boom := errors.New("extractor down")
			_, err := svc.EnrollFromImage(ctx, fakeExtractor{err: boom}, "u-4", "https://img/x.jpg", "att/x")
			So(errors.Is(err, boom), ShouldBeTrue)
		})
	})
}

func TestService_SaveFailureReleasesUpload(t *testing.T) {
	Convey("Given a profile store that cannot save", t, func() {
		ctx := context.Background()
		boom := errors.New("db down")
		mem := NewMemoryStore()
		_, err := mem.Put(ctx, Profile{UserID: "u-1", ImageURL: "https://img/old.jpg", ImagePublicID: "att/old"})
		So(err, ShouldBeNil)

		images := &fakeImages{}
		svc := NewService(failingPut{MemoryStore: mem, err: boom}, WithImageStore(images))
		ex := fakeExtractor{faces: []face.Description{sample(0.3)}}

		Convey("the fresh upload is destroyed and the old image kept", func() {
			_, err := svc.EnrollFromImage(ctx, ex, "u-1", "https://img/new.jpg", "att/new")
			So(errors.Is(err, boom), ShouldBeTrue)
			So(images.calls, ShouldResemble, []string{"att/new"})

			got, err := mem.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(got.ImagePublicID, ShouldEqual, "att/old")
		})

		Convey("a sample enrollment has no upload to release", func() {
			_, err := svc.Enroll(ctx, "u-1", []face.Description{sample(0.3)})
			So(errors.Is(err, boom), ShouldBeTrue)
			So(images.calls, ShouldBeEmpty)
		})
	})
}
