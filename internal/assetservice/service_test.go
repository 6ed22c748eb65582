package assetservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/guildsync/internal/apperr"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/testutil"
)

var damao = models.CharacterKey{Namespace: "guild", Name: "damao"}

type env struct {
	svc       *Service
	intakeDir string
	targetDir string
	events    []Event
}

func setup(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{intakeDir: filepath.Join(root, "intake")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.TestDB(t)
	syncer := gallery.New(testutil.FakeCodec{}, gallery.WithLogger(logger), gallery.WithManifest(db))
	chars := []Character{{
		Key:       damao,
		Preserved: []string{"avatar.webp"},
	}}
	e.svc = New(Config{IntakePath: e.intakeDir, TargetRoot: filepath.Join(root, "assets")}, chars, syncer, db,
		WithLogger(logger),
		WithEvents(func(ev Event) { e.events = append(e.events, ev) }),
	)
	e.targetDir = e.svc.TargetDir(damao)
	return e
}

func (e *env) kinds() []string {
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestSyncWithoutIntakeDir(t *testing.T) {
	e := setup(t)
	rep, err := e.svc.Sync(context.Background(), damao, SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(rep.Gallery) != 0 {
		t.Errorf("gallery = %v, want empty", rep.Gallery)
	}
}

func TestImportThenSync(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.svc.ImportIntake(ctx, "a.jpg", testutil.JPEG(t, 1)); err != nil {
		t.Fatalf("ImportIntake: %v", err)
	}

	rep, err := e.svc.Sync(ctx, damao, SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(rep.Added) != 1 || rep.Added[0] != "gallery_1.webp" {
		t.Fatalf("added = %v", rep.Added)
	}
	want := []string{EventIntakeAdded, EventAssetAdded, EventSyncCompleted}
	got := e.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestImportIntakeValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	for _, name := range []string{"", "../a.jpg", ".hidden.jpg", "notes.txt", "dir/a.jpg"} {
		if _, err := e.svc.ImportIntake(ctx, name, []byte("x")); !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("ImportIntake(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := e.svc.ImportIntake(ctx, "a.JPG", testutil.JPEG(t, 1)); err != nil {
		t.Fatalf("upper-case extension should be accepted: %v", err)
	}
	if _, err := e.svc.ImportIntake(ctx, "a.JPG", testutil.JPEG(t, 1)); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second import error = %v, want ErrAlreadyExists", err)
	}
}

func TestAssetsRoles(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.svc.ImportIntake(ctx, "a.jpg", testutil.JPEG(t, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Sync(ctx, damao, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, e.targetDir, "avatar.webp", testutil.PNG(t, 9))
	testutil.WriteFile(t, e.targetDir, "merch.webp", testutil.PNG(t, 8))

	assets, err := e.svc.Assets(ctx, damao)
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	roles := map[string]models.Role{}
	for _, a := range assets {
		roles[a.Name] = a.Role
	}
	if roles["avatar.webp"] != models.RolePreserved {
		t.Errorf("avatar role = %q", roles["avatar.webp"])
	}
	if roles["gallery_1.webp"] != models.RoleGallery {
		t.Errorf("gallery role = %q", roles["gallery_1.webp"])
	}
	if roles["merch.webp"] != models.RoleLoose {
		t.Errorf("merch role = %q", roles["merch.webp"])
	}
}

func TestUnknownCharacter(t *testing.T) {
	e := setup(t)
	other := models.CharacterKey{Namespace: "guild", Name: "nobody"}
	if _, err := e.svc.Sync(context.Background(), other, SyncOptions{}); !errors.Is(err, apperr.ErrUnknownCharacter) {
		t.Errorf("Sync error = %v", err)
	}
	if _, err := e.svc.ReadAsset(other, "gallery_1.webp"); !errors.Is(err, apperr.ErrUnknownCharacter) {
		t.Errorf("ReadAsset error = %v", err)
	}
}

func TestReadAsset(t *testing.T) {
	e := setup(t)
	if _, err := e.svc.Renumber(context.Background(), damao); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, e.targetDir, "avatar.webp", []byte("img"))

	data, err := e.svc.ReadAsset(damao, "avatar.webp")
	if err != nil || string(data) != "img" {
		t.Fatalf("ReadAsset = %q, %v", data, err)
	}
	if _, err := e.svc.ReadAsset(damao, "missing.webp"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing error = %v", err)
	}
	if _, err := e.svc.ReadAsset(damao, "../x.webp"); !errors.Is(err, apperr.ErrInvalidName) {
		t.Errorf("traversal error = %v", err)
	}
}

func TestRunsAfterSync(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.svc.Sync(ctx, damao, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	runs, err := e.svc.Runs(ctx, damao, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Mode != "sync" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestSyncAllReportsEveryCharacter(t *testing.T) {
	e := setup(t)
	reps, err := e.svc.SyncAll(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(reps) != 1 || reps[0].Character != "guild/damao" {
		t.Errorf("reports = %+v", reps)
	}
}
