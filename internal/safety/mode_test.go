package safety

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelNormal, "NORMAL"},
		{LevelCaution, "CAUTION"},
		{LevelSafe, "SAFE"},
		{LevelLockdown, "LOCKDOWN"},
		{Level(9), "Level(9)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String()=%q, expected %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" lockdown ")
	if err != nil || level != LevelLockdown {
		t.Fatalf("ParseLevel=%v, %v", level, err)
	}
	if _, err := ParseLevel("panic"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestLevelJSON(t *testing.T) {
	b, err := json.Marshal(LevelSafe)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"SAFE"` {
		t.Fatalf("marshal=%s", b)
	}

	var l Level
	if err := json.Unmarshal([]byte(`"caution"`), &l); err != nil || l != LevelCaution {
		t.Fatalf("unmarshal=%v, %v", l, err)
	}
}

func TestManagerPermissions(t *testing.T) {
	tests := []struct {
		level Level
		buy   bool
		sell  bool
	}{
		{LevelNormal, true, true},
		{LevelCaution, true, true},
		{LevelSafe, false, true},
		{LevelLockdown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			m := NewManager(nil, nil)
			if err := m.SetLevel(tt.level, "test"); err != nil {
				t.Fatal(err)
			}
			if m.BuyAllowed() != tt.buy || m.SellAllowed() != tt.sell {
				t.Fatalf("buy=%v sell=%v, expected buy=%v sell=%v",
					m.BuyAllowed(), m.SellAllowed(), tt.buy, tt.sell)
			}
		})
	}
}

func TestManagerLockdownArmsAndNormalDisarms(t *testing.T) {
	m := NewManager(nil, nil)
	ks := m.KillSwitch()

	_ = m.SetLevel(LevelSafe, "3 mismatches")
	if ks.IsActive() {
		t.Fatal("SAFE must not arm the kill switch")
	}

	_ = m.SetLevel(LevelLockdown, "phantom position")
	if !ks.IsActive() {
		t.Fatal("LOCKDOWN must arm the kill switch")
	}
	if ks.Reason() != "safety lockdown: phantom position" {
		t.Fatalf("Reason=%q", ks.Reason())
	}
	if ks.ActivatedBy() != ActivatorSafetyMode {
		t.Fatalf("ActivatedBy=%q", ks.ActivatedBy())
	}

	_ = m.SetLevel(LevelNormal, "resolved")
	if ks.IsActive() {
		t.Fatal("returning to NORMAL must release a safety-mode arming")
	}
}

func TestManagerDoesNotReleaseManualArming(t *testing.T) {
	m := NewManager(nil, nil)
	ks := m.KillSwitch()
	ks.Activate("operator stop", ActivatorManual)

	_ = m.SetLevel(LevelLockdown, "critical")
	_ = m.SetLevel(LevelCaution, "clears")

	if !ks.IsActive() {
		t.Fatal("manual arming must survive a safety de-escalation")
	}
	if ks.ActivatedBy() != ActivatorManual {
		t.Fatalf("ActivatedBy=%q", ks.ActivatedBy())
	}
}

func TestManagerSafeKeepsLockdownArming(t *testing.T) {
	m := NewManager(nil, nil)
	_ = m.SetLevel(LevelLockdown, "critical")
	_ = m.SetLevel(LevelSafe, "partially resolved")

	if !m.KillSwitch().IsActive() {
		t.Fatal("SAFE is above CAUTION, kill switch must stay armed")
	}
}

func TestManagerEscalateClamps(t *testing.T) {
	m := NewManager(nil, nil)
	for i := 0; i < 6; i++ {
		m.Escalate("step")
	}
	if m.Level() != LevelLockdown {
		t.Fatalf("Level=%v, expected LOCKDOWN", m.Level())
	}
	for i := 0; i < 6; i++ {
		m.DeEscalate("step")
	}
	if m.Level() != LevelNormal {
		t.Fatalf("Level=%v, expected NORMAL", m.Level())
	}
	// 3 up + 3 down, clamped steps are not recorded
	if n := len(m.History()); n != 6 {
		t.Fatalf("len(history)=%d, expected 6", n)
	}
}

func TestManagerSetLevelInvalid(t *testing.T) {
	m := NewManager(nil, nil)
	if err := m.SetLevel(Level(7), "bad"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	if len(m.History()) != 0 {
		t.Fatal("invalid level must not be recorded")
	}
}

func TestManagerStatus(t *testing.T) {
	m := NewManager(nil, nil)
	_ = m.SetLevel(LevelLockdown, "x")

	st := m.Status()
	if st.Level != LevelLockdown || st.LevelValue != 3 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.BuyAllowed || st.SellAllowed {
		t.Fatalf("LOCKDOWN must block both sides: %+v", st)
	}
	if !st.KillSwitch.Active {
		t.Fatal("status must report the armed switch")
	}
	if st.HistoryCount != 1 {
		t.Fatalf("HistoryCount=%d", st.HistoryCount)
	}
}
