package launchlist

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nvandessel/simbatch/internal/study"
	"github.com/nvandessel/simbatch/internal/study/studytest"
)

func TestList_Sequence(t *testing.T) {
	l := List{
		Server:       []ProcessSpec{{Path: "s"}},
		Market:       []ProcessSpec{{Path: "m"}},
		Controller:   []ProcessSpec{{Path: "c"}},
		Participants: []ProcessSpec{{Path: "p1"}, {Path: "p2"}},
	}

	paths := func(specs []ProcessSpec) []string {
		out := make([]string, len(specs))
		for i, s := range specs {
			out[i] = s.Path
		}
		return out
	}
	tests := []struct {
		name string
		skip bool
		want []string
	}{
		{"with server", false, []string{"s", "m", "c", "p1", "p2"}},
		{"skip server", true, []string{"m", "c", "p1", "p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paths(l.Sequence(tt.skip))
			if len(got) != len(tt.want) {
				t.Fatalf("Sequence() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Sequence()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestScriptBuilder_Defaults(t *testing.T) {
	cfg := studytest.Sample(t)
	cfg.Study.Type = "validation"
	cfg.Market.ID = "validation"

	l, err := ScriptBuilder{}.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(l.Server) != 1 || l.Server[0].Path != DefaultServerScript {
		t.Fatalf("Server = %+v", l.Server)
	}
	if got := argValue(l.Server[0].Args, "--port"); got != "42000" {
		t.Errorf("server --port = %q, want 42000", got)
	}
	if len(l.Market) != 1 || argValue(l.Market[0].Args, "--id") != "validation" {
		t.Errorf("Market = %+v", l.Market)
	}
	if len(l.Participants) != 3 {
		t.Fatalf("got %d participant specs, want 3", len(l.Participants))
	}
	for i, id := range []string{"P1", "P2", "P3"} {
		spec := l.Participants[i]
		if argValue(spec.Args, "--id") != id {
			t.Errorf("participant %d --id = %q, want %q", i, argValue(spec.Args, "--id"), id)
		}
		if spec.Role != RoleParticipant || spec.Run != "validation/validation" {
			t.Errorf("participant %d role/run = %s/%s", i, spec.Role, spec.Run)
		}
	}

	var passed study.Config
	if err := json.Unmarshal([]byte(argValue(l.Controller[0].Args, "--config")), &passed); err != nil {
		t.Fatalf("controller --config is not a study config: %v", err)
	}
	if !studytest.JSONEqual(t, &passed, cfg) {
		t.Error("controller did not receive the run config")
	}
}

func TestScriptBuilder_LauncherSection(t *testing.T) {
	cfg := studytest.Sample(t)
	cfg.Server.Port = 0
	cfg.Server.Host = ""
	cfg.Launcher = &study.Launcher{
		Server:       "bin/server",
		Participant:  "agents/run.py",
		StartupDelay: "3s",
	}

	l, err := ScriptBuilder{}.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if l.Server[0].Path != "bin/server" {
		t.Errorf("server path = %q", l.Server[0].Path)
	}
	if l.Server[0].Delay != 0 {
		t.Errorf("server delay = %v, want 0", l.Server[0].Delay)
	}
	if l.Market[0].Path != DefaultMarketScript {
		t.Errorf("market path = %q, want default", l.Market[0].Path)
	}
	if argValue(l.Market[0].Args, "--host") != "localhost" || argValue(l.Market[0].Args, "--port") != "3000" {
		t.Errorf("market connection args = %v", l.Market[0].Args)
	}
	for _, spec := range l.Sequence(true) {
		if spec.Delay != 3*time.Second {
			t.Errorf("%s delay = %v, want 3s", spec.Role, spec.Delay)
		}
	}
	if l.Participants[0].Path != "agents/run.py" {
		t.Errorf("participant path = %q", l.Participants[0].Path)
	}
}

func TestScriptBuilder_Errors(t *testing.T) {
	if _, err := (ScriptBuilder{}).Build(nil); err == nil {
		t.Error("Build(nil) error = nil")
	}

	cfg := studytest.Sample(t)
	cfg.Launcher = &study.Launcher{StartupDelay: "soon"}
	if _, err := (ScriptBuilder{}).Build(cfg); err == nil {
		t.Error("Build() accepted an invalid startup delay")
	}
}

func TestBuilderFunc(t *testing.T) {
	var b Builder = BuilderFunc(func(cfg *study.Config) (List, error) {
		return List{Market: []ProcessSpec{{Path: cfg.Market.ID}}}, nil
	})
	cfg := studytest.Sample(t)
	cfg.Market.ID = "m"
	l, err := b.Build(cfg)
	if err != nil || len(l.Market) != 1 || l.Market[0].Path != "m" {
		t.Errorf("BuilderFunc.Build() = %+v, %v", l, err)
	}
}
