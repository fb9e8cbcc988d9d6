package nfi

import (
	"os"
	"path"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type bindPathsTester struct {
	input StandardPaths
	env   map[string]string

	expect StandardPaths
}

func (t *bindPathsTester) runTest(test *testing.T, name string) {
	test.Setenv("HOME", "/home/op")
	for _, k := range []string{"NFI_APPNAME", "XDG_CONFIG_HOME", "XDG_STATE_HOME", "XDG_DATA_HOME"} {
		test.Setenv(k, "")
	}
	for k, v := range t.env {
		test.Setenv(k, v)
	}

	got := BindStandardPaths(&t.input)
	if !reflect.DeepEqual(*got, t.expect) {
		test.Errorf("[%s] expected %+v, got %+v", name, t.expect, *got)
	}
}

var bindPathsTests = map[string]*bindPathsTester{
	"defaults": {
		input: StandardPaths{"-", "-", "-", "-"},
		expect: StandardPaths{
			NFI_APPNAME: "nfi",
			CONFIG_HOME: "/home/op/.config/nfi",
			STATE_HOME:  "/home/op/.local/state/nfi",
			DATA_HOME:   "/home/op/.local/share/nfi",
		},
	},
	"environment": {
		input: StandardPaths{"-", "-", "-", "-"},
		env:   map[string]string{"NFI_APPNAME": "lab", "XDG_DATA_HOME": "/srv/data"},
		expect: StandardPaths{
			NFI_APPNAME: "lab",
			CONFIG_HOME: "/home/op/.config/lab",
			STATE_HOME:  "/home/op/.local/state/lab",
			DATA_HOME:   "/srv/data/lab",
		},
	},
	"flags win": {
		input: StandardPaths{"-", "/etc/nfi", "-", "/var/lib/nfi"},
		env:   map[string]string{"XDG_DATA_HOME": "/srv/data"},
		expect: StandardPaths{
			NFI_APPNAME: "nfi",
			CONFIG_HOME: "/etc/nfi",
			STATE_HOME:  "/home/op/.local/state/nfi",
			DATA_HOME:   "/var/lib/nfi",
		},
	},
}

func TestBindStandardPaths(t *testing.T) {
	for tname, cfg := range bindPathsTests {
		cfg.runTest(t, tname)
	}
}

func TestParseSettings(t *testing.T) {
	paths := StandardPaths{AppName, "/c", "/s", "/d"}
	conf := DefaultConfiguration(paths)

	settings := []byte(`
[database]
path = /tmp/inventory.db

[vault]
secret_key = from-file

[collector]
binary = /usr/local/bin/ansible-playbook
playbook_paths = /opt/nfi/inventory_report.yml, ./inventory_report.yml
timeout = 90s

[tasks]
history = 10
`)
	if err := ParseSettings(settings, conf); err != nil {
		t.Fatal(err)
	}

	if conf.Database.Path != "/tmp/inventory.db" {
		t.Errorf("unexpected database path %s", conf.Database.Path)
	}
	if conf.Vault.SecretKey != "from-file" || conf.Vault.EncryptionKey != "" {
		t.Errorf("unexpected vault settings %+v", conf.Vault)
	}
	if conf.Collector.Binary != "/usr/local/bin/ansible-playbook" {
		t.Errorf("unexpected binary %s", conf.Collector.Binary)
	}
	expected := []string{"/opt/nfi/inventory_report.yml", "./inventory_report.yml"}
	if !reflect.DeepEqual(conf.Collector.Playbooks, expected) {
		t.Errorf("expected playbooks %v, got %v", expected, conf.Collector.Playbooks)
	}
	if conf.Collector.Timeout != 90*time.Second {
		t.Errorf("unexpected timeout %s", conf.Collector.Timeout)
	}
	// untouched values keep their defaults
	if conf.Collector.ScratchDir != "/s" {
		t.Errorf("unexpected scratch dir %s", conf.Collector.ScratchDir)
	}
	if conf.Tasks.History != 10 || conf.Tasks.TTL != time.Hour {
		t.Errorf("unexpected task settings %+v", conf.Tasks)
	}
}

func TestParseSettingsInvalidTimeout(t *testing.T) {
	conf := DefaultConfiguration(StandardPaths{AppName, "/c", "/s", "/d"})
	if err := ParseSettings([]byte("[collector]\ntimeout = -5s\n"), conf); err == nil {
		t.Error("expected an error for a negative timeout")
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	paths := StandardPaths{
		NFI_APPNAME: AppName,
		CONFIG_HOME: path.Join(dir, "config"),
		STATE_HOME:  path.Join(dir, "state"),
		DATA_HOME:   path.Join(dir, "data"),
	}
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("SECRET_KEY", "")

	conf, err := LoadSettings("-", &paths)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Database.Path != filepath.Join(paths.DATA_HOME, DatabaseFile) {
		t.Errorf("unexpected default database %s", conf.Database.Path)
	}
	for _, p := range []string{paths.CONFIG_HOME, paths.STATE_HOME, paths.DATA_HOME} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("standard path %s not created", p)
		}
	}

	// the settings file in the config home is picked up
	settings := "[vault]\nsecret_key = from-file\n"
	if err := os.WriteFile(filepath.Join(paths.CONFIG_HOME, SettingsFile), []byte(settings), 0o600); err != nil {
		t.Fatal(err)
	}
	conf, err = LoadSettings("-", &paths)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Vault.SecretKey != "from-file" {
		t.Errorf("settings file ignored, got %q", conf.Vault.SecretKey)
	}

	// the environment wins over the file
	t.Setenv("SECRET_KEY", "from-env")
	conf, err = LoadSettings("-", &paths)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Vault.SecretKey != "from-env" {
		t.Errorf("environment ignored, got %q", conf.Vault.SecretKey)
	}

	if _, err := LoadSettings(filepath.Join(dir, "missing.ini"), &paths); err == nil {
		t.Error("expected an error for a missing explicit settings file")
	}
}
