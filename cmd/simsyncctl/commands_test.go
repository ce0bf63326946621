package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/simsync/internal/application"
	"github.com/JonMunkholm/simsync/internal/config"
	"github.com/JonMunkholm/simsync/internal/core"
	"github.com/JonMunkholm/simsync/internal/store"
)

// harness runs commands against one in-memory service, so state carries
// over between runs the way it would with a persistent store.
type harness struct {
	t   *testing.T
	app *application.App
	cfg *config.Config
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc, err := core.NewService(core.Options{Store: store.NewMemory()})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		t:   t,
		app: &application.App{Service: svc},
		cfg: &config.Config{Ingest: config.IngestConfig{MaxFileSize: 1 << 20}},
		dir: t.TempDir(),
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	c := newCLI(func(context.Context, string) (*application.App, *config.Config, error) {
		return h.app, h.cfg, nil
	})
	root := c.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if cerr := c.close(); cerr != nil {
		h.t.Fatal(cerr)
	}
	return out.String(), err
}

func (h *harness) file(name, content string) string {
	h.t.Helper()
	p := filepath.Join(h.dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		h.t.Fatal(err)
	}
	return p
}

const statusCSV = "Station,Line,Sim Status,Owner\n"

func TestIngestPreviewAndCommit(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("ingest", "--plant", "P1", h.file("first.csv", statusCSV+"ST100,L1,done,Ana\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "state:     CONFIRMED") || !strings.Contains(out, "created:   1") {
		t.Errorf("first ingest output:\n%s", out)
	}

	second := h.file("second.csv", statusCSV+"ST100,L1,done,Ana\nST200,L2,open,Bob\n")
	out, err = h.run("ingest", "--plant", "P1", second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "state:     PREVIEW") {
		t.Errorf("preview output:\n%s", out)
	}
	if n := len(h.app.Service.Entities(core.EntityFilter{})); n != 1 {
		t.Fatalf("preview wrote entities: %d", n)
	}
	if n := len(h.app.Service.PendingPlans()); n != 0 {
		t.Errorf("preview left %d pending plans", n)
	}

	out, err = h.run("--json", "ingest", "--plant", "P1", "--commit", second)
	if err != nil {
		t.Fatal(err)
	}
	var res core.IngestionResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if res.State != core.StateConfirmed || res.Diff.Summary.Created != 1 {
		t.Errorf("commit result = %+v", res)
	}

	out, err = h.run("imports")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "first.csv") || !strings.Contains(out, "second.csv") {
		t.Errorf("imports output:\n%s", out)
	}
}

func TestIngestErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"ingest", filepath.Join(h.dir, "nope.csv")}, "no such file"},
		{"unsupported type", []string{"ingest", h.file("notes.pdf", "x")}, "unsupported file type"},
		{"bad source", []string{"ingest", "--source", "FTP", h.file("a.csv", statusCSV+"ST1,L1,done,Ana\n")}, "invalid source kind"},
		{"no args", []string{"ingest"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAliasAndStatusCommands(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("ingest", "--plant", "P1", h.file("s.csv", statusCSV+"ST100,L1,done,Ana\n")); err != nil {
		t.Fatal(err)
	}
	uid := h.app.Service.Entities(core.EntityFilter{})[0].UID

	if _, err := h.run("alias", "add", "ST099", uid); err == nil {
		t.Error("alias add without --type should fail")
	}
	out, err := h.run("alias", "add", "--type", "station", "--plant", "P1", "--reason", "renamed", "ST099", uid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ST099 -> "+uid) {
		t.Errorf("alias add output: %s", out)
	}

	out, err = h.run("entities", "deactivate", "--reason", "scrapped", uid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "inactive") {
		t.Errorf("deactivate output: %s", out)
	}

	out, err = h.run("entities", "--status", "inactive")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ST100") {
		t.Errorf("entities output:\n%s", out)
	}

	out, err = h.run("audit", "--uid", uid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "scrapped") {
		t.Errorf("audit output:\n%s", out)
	}
}

func TestSnapshotExportImportWipe(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("ingest", "--plant", "P1", h.file("s.csv", statusCSV+"ST100,L1,done,Ana\nST200,L1,open,Bob\n")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(h.dir, "snap.json")
	if _, err := h.run("snapshot", "export", path); err != nil {
		t.Fatal(err)
	}

	if _, err := h.run("wipe"); err == nil {
		t.Error("wipe without --yes should fail")
	}
	if _, err := h.run("wipe", "--yes"); err != nil {
		t.Fatal(err)
	}
	if n := h.app.Service.Registry().Len(); n != 0 {
		t.Fatalf("entities after wipe = %d", n)
	}

	out, err := h.run("snapshot", "import", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(2 entities)") {
		t.Errorf("import output: %s", out)
	}

	if _, err := h.run("snapshot", "import", h.file("bad.json", `{"entities":`)); err == nil {
		t.Error("corrupt snapshot should be rejected")
	}
	if n := h.app.Service.Registry().Len(); n != 2 {
		t.Errorf("rejected import changed the registry: %d entities", n)
	}
}
