package config

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/ledgerd")

	if conf.DatabaseDir != filepath.Join("/tmp/ledgerd", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, got %s", conf.DatabaseDir)
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/other")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("explicit DatabaseDir should not change, got %s", conf.DatabaseDir)
	}
}

func TestSetDataDirLevelDB(t *testing.T) {
	conf := NewDefaultConfig()
	conf.Store = StoreLevelDB
	conf.SetDataDir("/tmp/ledgerd")

	if conf.DatabaseDir != filepath.Join("/tmp/ledgerd", DefaultLevelDBFile) {
		t.Fatalf("DatabaseDir should be the leveldb default, got %s", conf.DatabaseDir)
	}
}

func TestGenesisParams(t *testing.T) {
	conf := NewDefaultConfig()
	conf.BaseFee = 7
	conf.MaxTxSetSize = 3

	p := conf.GenesisParams()
	if p.BaseFee != 7 || p.MaxTxSetSize != 3 {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.ProtocolVersion == 0 {
		t.Fatalf("protocol version should default to a non-zero value")
	}
}

func TestLogFile(t *testing.T) {
	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(t.TempDir(), "ledgerd.log")

	entry := conf.Logger()
	if entry.Logger.Level != logrus.InfoLevel {
		t.Fatalf("level should be info, got %v", entry.Logger.Level)
	}
	if len(entry.Logger.Hooks[logrus.InfoLevel]) != 1 {
		t.Fatalf("log file hook should be installed")
	}
	if entry.Data["prefix"] != "ledgerd" {
		t.Fatalf("prefix should be ledgerd, got %v", entry.Data["prefix"])
	}
}

func TestLogLevel(t *testing.T) {
	if LogLevel("warn") != logrus.WarnLevel {
		t.Fatal("warn should parse")
	}
	if LogLevel("bogus") != logrus.DebugLevel {
		t.Fatal("unknown levels default to debug")
	}
}
