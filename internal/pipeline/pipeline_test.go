package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/typegen/internal/apperr"
	"github.com/starford/typegen/internal/generator"
	"github.com/starford/typegen/internal/history"
	"github.com/starford/typegen/internal/testutil"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) PublishEvent(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

func newService(t *testing.T, opts Options, store history.Store, pub Publisher) *Service {
	t.Helper()
	svc, err := New(opts, store, pub, testutil.Logger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

const wantUserPost = generator.Banner + `

export interface Post {
  title: string;
  tags: string[];
  author: string;
}

export interface User {
  name: string;
  age: number;
  role: "admin" | "member";
  createdAt: Date;
  updatedAt: Date;
}
`

func TestGenerate_SingleFile(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.yaml": testutil.UserSchema,
		"post.yaml": testutil.PostSchema,
	})
	db := testutil.TestDB(t)
	pub := &recordingPublisher{}
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, OutputFile: "models.ts"}, db, pub)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.OK() || res.Status != history.StatusSucceeded {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"Post", "User"}, res.Models); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}

	got := testutil.ReadFile(t, filepath.Join(outDir, "models.ts"))
	if diff := cmp.Diff(wantUserPost, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(outDir, "models.ts"+".bak")); !os.IsNotExist(err) {
		t.Error("backup should be removed after a successful write")
	}

	last, err := db.LastRun()
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last.ID != res.RunID || last.Status != history.StatusSucceeded || last.Models != 2 || last.Trigger != TriggerCLI {
		t.Errorf("last run = %+v", last)
	}
	outs, _ := db.Outputs()
	if len(outs) != 1 || outs[0].Path != filepath.Join(svc.OutputDir(), "models.ts") {
		t.Errorf("outputs = %+v", outs)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if diff := cmp.Diff([]string{EventRunStarted, EventRunCompleted}, pub.kinds); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.yaml": testutil.UserSchema,
		"post.yaml": testutil.PostSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir}, nil, nil)

	if _, err := svc.Generate(context.Background(), TriggerCLI); err != nil {
		t.Fatal(err)
	}
	first := testutil.ReadFile(t, filepath.Join(outDir, generator.DefaultFileName))

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatal(err)
	}
	second := testutil.ReadFile(t, filepath.Join(outDir, generator.DefaultFileName))
	if first != second {
		t.Error("regeneration from unchanged source changed the output")
	}
	if len(res.Files) != 1 || !res.Files[0].Unchanged || res.Written() != 0 {
		t.Errorf("files = %+v", res.Files)
	}
}

func TestGenerate_PartialFailureIsolation(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.yaml":   testutil.UserSchema,
		"post.yaml":   testutil.PostSchema,
		"broken.yaml": "name: [unclosed\n",
	})
	pub := &recordingPublisher{}
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, Workers: 4}, nil, pub)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Failed() != 1 || len(res.ExtractFailures) != 1 {
		t.Fatalf("failures = %+v", res)
	}
	if !strings.HasSuffix(res.ExtractFailures[0].Path, "broken.yaml") {
		t.Errorf("failed path = %s", res.ExtractFailures[0].Path)
	}
	if res.Status != history.StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
	got := testutil.ReadFile(t, filepath.Join(outDir, generator.DefaultFileName))
	if diff := cmp.Diff(wantUserPost, got); diff != "" {
		t.Errorf("surviving models should render completely (-want +got):\n%s", diff)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.kinds[len(pub.kinds)-1] != EventRunFailed {
		t.Errorf("events = %v", pub.kinds)
	}
}

func TestGenerate_DuplicateModelIsSkipped(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"a/user.yaml": testutil.UserSchema,
		"b/user.yaml": testutil.UserSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir}, nil, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.ValidationFailures) != 1 || res.ValidationFailures[0].Model != "User" {
		t.Fatalf("validation failures = %+v", res.ValidationFailures)
	}
	if diff := cmp.Diff([]string{"User"}, res.Models); diff != "" {
		t.Errorf("models mismatch:\n%s", diff)
	}
}

func TestGenerate_NoModels(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"readme.yaml": "version: 3\n",
	})
	store := history.NewMemory()
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir}, store, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if !apperr.HasCode(err, apperr.CodeNoModelsFound) {
		t.Fatalf("err = %v", err)
	}
	if res.Status != history.StatusEmpty {
		t.Errorf("status = %s", res.Status)
	}
	if _, statErr := os.Stat(outDir); !os.IsNotExist(statErr) {
		t.Error("nothing should be written when there are no models")
	}
	last, _ := store.LastRun()
	if last.Status != history.StatusEmpty {
		t.Errorf("recorded status = %s", last.Status)
	}
}

func TestGenerate_MissingModelsDir(t *testing.T) {
	root := t.TempDir()
	svc := newService(t, Options{ModelsPath: filepath.Join(root, "nope"), OutputPath: filepath.Join(root, "out")}, nil, nil)
	_, err := svc.Generate(context.Background(), TriggerCLI)
	if !apperr.HasCode(err, apperr.CodeNoModelsFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerate_SeparateMode(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.yaml": testutil.UserSchema,
		"post.yaml": testutil.PostSchema,
	})
	svc := newService(t, Options{
		ModelsPath:        modelsDir,
		OutputPath:        outDir,
		OutputMode:        generator.ModeSeparate,
		ResolveReferences: true,
	}, nil, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Files) != 3 {
		t.Fatalf("files = %+v", res.Files)
	}
	for _, name := range []string{"Post.ts", "User.ts", "index.ts"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	post := testutil.ReadFile(t, filepath.Join(outDir, "Post.ts"))
	if !strings.Contains(post, "author: string | User;") {
		t.Errorf("Post.ts:\n%s", post)
	}
	index := testutil.ReadFile(t, filepath.Join(outDir, "index.ts"))
	if !strings.Contains(index, `export * from "./User";`) {
		t.Errorf("index.ts:\n%s", index)
	}
}

func TestGenerate_SeparateModeKeepsFilesInsideOutputDir(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"evil.yaml": "Evil:\n  kind: Model\n  name: ../escaped\n  schema:\n    x: String\n",
		"user.yaml": testutil.UserSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, OutputMode: generator.ModeSeparate}, nil, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.OK() || len(res.ValidationFailures) != 1 || res.ValidationFailures[0].Model != "../escaped" {
		t.Errorf("validation failures = %+v", res.ValidationFailures)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(outDir), "escaped.ts")); !os.IsNotExist(err) {
		t.Errorf("escaped.ts written outside the output directory (stat err = %v)", err)
	}
	for _, f := range res.Files {
		if filepath.Dir(f.Path) != outDir {
			t.Errorf("file %s is outside %s", f.Path, outDir)
		}
	}
}

func TestGenerate_SeparateModeModelNamedIndex(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"index.yaml": "name: String\n",
		"user.yaml":  testutil.UserSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, OutputMode: generator.ModeSeparate}, nil, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if !apperr.HasCode(err, apperr.CodeRenderFailed) {
		t.Fatalf("err = %v, want RENDER_FAILED", err)
	}
	if res.Status != history.StatusFailed {
		t.Errorf("status = %q", res.Status)
	}
	if _, err := os.Stat(filepath.Join(outDir, "index.ts")); !os.IsNotExist(err) {
		t.Error("nothing should be written when output names collide")
	}
}

func TestGenerate_CustomExtension(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.schema": "name: String\n",
		"post.yaml":   testutil.PostSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, Extensions: []string{".schema"}}, nil, nil)

	res, err := svc.Generate(context.Background(), TriggerCLI)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.OK() || len(res.Models) != 1 || res.Models[0] != "User" {
		t.Errorf("result = %+v", res)
	}
}

func TestWatchIgnore(t *testing.T) {
	root := t.TempDir()
	models := filepath.Join(root, "models")

	single := newService(t, Options{ModelsPath: models, OutputPath: filepath.Join(models, "types.ts")}, nil, nil)
	want := []string{filepath.Join(models, "types.ts"), filepath.Join(models, "types.ts.bak")}
	if diff := cmp.Diff(want, single.WatchIgnore()); diff != "" {
		t.Errorf("single mode ignore mismatch:\n%s", diff)
	}

	separate := newService(t, Options{ModelsPath: models, OutputPath: filepath.Join(root, "types"), OutputMode: generator.ModeSeparate}, nil, nil)
	if diff := cmp.Diff([]string{filepath.Join(root, "types")}, separate.WatchIgnore()); diff != "" {
		t.Errorf("separate mode ignore mismatch:\n%s", diff)
	}

	enclosing := newService(t, Options{ModelsPath: models, OutputPath: root, OutputMode: generator.ModeSeparate}, nil, nil)
	if got := enclosing.WatchIgnore(); len(got) != 0 {
		t.Errorf("output dir holding the models root must not be ignored: %v", got)
	}
}

func TestGenerate_OutputPathNamesFile(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{"post.yaml": testutil.PostSchema})
	target := filepath.Join(outDir, "api", "schema.ts")
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: target}, nil, nil)

	if _, err := svc.Generate(context.Background(), TriggerCLI); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(testutil.ReadFile(t, target), "export interface Post {") {
		t.Error("output should be written to the named file")
	}
}

func TestGenerate_CustomTypeMap(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"price.yaml": "amount: Decimal128\n",
	})
	svc := newService(t, Options{
		ModelsPath:    modelsDir,
		OutputPath:    outDir,
		CustomTypeMap: map[string]string{"Decimal128": "string"},
	}, nil, nil)

	if _, err := svc.Generate(context.Background(), TriggerCLI); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(testutil.ReadFile(t, filepath.Join(outDir, generator.DefaultFileName)), "amount: string;") {
		t.Error("custom type map should override the default mapping")
	}
}

func TestNew_RejectsBadTypeMap(t *testing.T) {
	_, err := New(Options{ModelsPath: ".", OutputPath: ".", CustomTypeMap: map[string]string{"X": "widget"}}, nil, nil, testutil.Logger())
	if !apperr.HasCode(err, apperr.CodeConfigInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestModelsAndPreview(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, map[string]string{
		"user.yaml": testutil.UserSchema,
		"post.yaml": testutil.PostSchema,
	})
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir}, nil, nil)

	ms, err := svc.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(ms) != 2 || ms[0].ModelName != "Post" || ms[1].TableName != "User" {
		t.Errorf("models = %+v", ms)
	}

	text, err := svc.Preview(context.Background(), "post.yaml")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.HasPrefix(text, generator.Banner) || !strings.Contains(text, "tags: string[];") {
		t.Errorf("preview:\n%s", text)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("preview must not write")
	}

	if _, err := svc.Preview(context.Background(), "missing.yaml"); err == nil {
		t.Error("preview of a missing file should fail")
	}
}

func TestMatch(t *testing.T) {
	modelsDir, outDir := testutil.TestProject(t, nil)
	svc := newService(t, Options{ModelsPath: modelsDir, OutputPath: outDir, Exclude: []string{"**/*.test.*"}}, nil, nil)
	if !svc.Match(filepath.Join(svc.ModelsRoot(), "user.yaml")) {
		t.Error("schema file should match")
	}
	if svc.Match(filepath.Join(svc.ModelsRoot(), "user.test.yaml")) {
		t.Error("excluded file should not match")
	}
}
