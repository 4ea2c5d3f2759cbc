package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/efreitasn/bourse/internal/domain"
)

func TestState_SetPhase(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		wantErr  bool
	}{
		{domain.PhaseClosed, domain.PhasePreOpen, false},
		{domain.PhasePreOpen, domain.PhaseOpeningAuction, false},
		{domain.PhaseOpeningAuction, domain.PhaseContinuous, false},
		{domain.PhaseContinuous, domain.PhaseClosingAuction, false},
		{domain.PhaseClosingAuction, domain.PhaseClosed, false},
		{domain.PhaseContinuous, domain.PhaseContinuous, false},
		{domain.PhaseOpeningAuction, domain.PhaseClosed, false},
		{domain.PhaseClosed, domain.PhaseContinuous, true},
		{domain.PhaseContinuous, domain.PhasePreOpen, true},
		{domain.PhasePreOpen, domain.PhaseClosingAuction, true},
		{domain.PhaseClosed, domain.Phase("lunch"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := NewState(domain.ModeManual, tt.from)
			err := s.SetPhase(tt.to)
			if tt.wantErr {
				var ve *domain.ValidationError
				if !errors.As(err, &ve) || ve.Code != domain.CodeInvalidTransition {
					t.Fatalf("expected invalid_transition, got %v", err)
				}
				if s.Phase() != tt.from {
					t.Fatalf("rejected transition changed phase to %s", s.Phase())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Phase() != tt.to {
				t.Fatalf("expected %s, got %s", tt.to, s.Phase())
			}
		})
	}
}

func TestState_ForcePhaseAndMode(t *testing.T) {
	s := NewState(domain.ModeAutomatic, domain.PhaseClosed)
	if err := s.ForcePhase(domain.PhaseContinuous); err != nil {
		t.Fatalf("ForcePhase: %v", err)
	}
	if s.Phase() != domain.PhaseContinuous {
		t.Fatalf("expected continuous, got %s", s.Phase())
	}
	if err := s.ForcePhase("lunch"); err == nil {
		t.Fatal("expected unknown phase to be rejected")
	}

	if err := s.SetMode(domain.ModeManual); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if s.Mode() != domain.ModeManual || s.Phase() != domain.PhaseContinuous {
		t.Fatalf("manual mode must not change the phase, got %+v", s.Status())
	}
	if err := s.SetMode("semi"); err == nil {
		t.Fatal("expected unknown mode to be rejected")
	}
}

func TestState_SetPhaseIfAutomatic(t *testing.T) {
	s := NewState(domain.ModeManual, domain.PhaseClosed)
	applied, err := s.SetPhaseIfAutomatic(domain.PhasePreOpen)
	if err != nil || applied {
		t.Fatalf("expected skip in manual mode, got %v, %v", applied, err)
	}
	_ = s.SetMode(domain.ModeAutomatic)
	applied, err = s.SetPhaseIfAutomatic(domain.PhasePreOpen)
	if err != nil || !applied || s.Phase() != domain.PhasePreOpen {
		t.Fatalf("expected pre_open applied, got %v, %v, %s", applied, err, s.Phase())
	}
}

func TestState_ObserversSeeChanges(t *testing.T) {
	s := NewState(domain.ModeAutomatic, domain.PhaseClosed)
	var seen []domain.SessionStatus
	s.OnTransition(func(prev, next domain.SessionStatus) {
		seen = append(seen, next)
	})

	_ = s.SetPhase(domain.PhasePreOpen)
	_ = s.SetPhase(domain.PhasePreOpen) // no change, no callback
	s.FailSafe()

	if len(seen) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %+v", len(seen), seen)
	}
	if seen[1] != (domain.SessionStatus{Mode: domain.ModeManual, Phase: domain.PhaseClosed}) {
		t.Fatalf("expected fail-safe status, got %+v", seen[1])
	}
}

func TestState_ConcurrentReadsAreConsistent(t *testing.T) {
	s := NewState(domain.ModeAutomatic, domain.PhaseClosed)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.SetPhase(s.Phase().Next())
		}
		close(stop)
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if st := s.Status(); !st.Phase.Valid() || !st.Mode.Valid() {
					t.Errorf("torn read: %+v", st)
					return
				}
			}
		}()
	}
	wg.Wait()
}
