// Package profile holds the user profile consulted before generation and the
// nutrition and activity targets derived from it.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/viperdam/body-mode-sub006/storage"
)

// ErrNoProfile is returned when the user has not completed onboarding.
var ErrNoProfile = errors.New("no user profile")

// Sex affects the basal metabolic rate constant.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// ActivityLevel scales basal metabolic rate to daily expenditure.
type ActivityLevel string

const (
	ActivitySedentary ActivityLevel = "sedentary"
	ActivityLight     ActivityLevel = "light"
	ActivityModerate  ActivityLevel = "moderate"
	ActivityActive    ActivityLevel = "active"
	ActivityAthlete   ActivityLevel = "athlete"
)

var activityFactors = map[ActivityLevel]float64{
	ActivitySedentary: 1.2,
	ActivityLight:     1.375,
	ActivityModerate:  1.55,
	ActivityActive:    1.725,
	ActivityAthlete:   1.9,
}

// Goal adjusts the calorie target.
type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

// Profile is the user's onboarding data.
type Profile struct {
	SchemaVersion int           `json:"schema_version"`
	Name          string        `json:"name,omitempty"`
	Sex           Sex           `json:"sex"`
	BirthYear     int           `json:"birth_year"`
	HeightCm      float64       `json:"height_cm"`
	WeightKg      float64       `json:"weight_kg"`
	ActivityLevel ActivityLevel `json:"activity_level"`
	Goal          Goal          `json:"goal"`
	WakeTime      string        `json:"wake_time,omitempty"`
	SleepTime     string        `json:"sleep_time,omitempty"`
	Language      string        `json:"language,omitempty"`
	Timezone      string        `json:"timezone,omitempty"`
	Targets       Targets       `json:"targets"`
}

// Targets are the daily goals fed into generation.
type Targets struct {
	Calories      int    `json:"calories"`
	ProteinG      int    `json:"protein_g"`
	WaterMl       int    `json:"water_ml"`
	ActiveMinutes int    `json:"active_minutes"`
	Steps         int    `json:"steps"`
	ComputedFor   string `json:"computed_for,omitempty"`
}

// Repository persists the profile under a single key.
type Repository struct {
	store storage.Store
}

// NewRepository creates a profile repository over store.
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store}
}

// Load returns the stored profile or ErrNoProfile.
func (r *Repository) Load(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := storage.GetJSON(ctx, r.store, storage.KeyUserProfile, &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoProfile
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &p, nil
}

// Save writes the profile.
func (r *Repository) Save(ctx context.Context, p *Profile) error {
	p.SchemaVersion = 1
	return storage.SetJSON(ctx, r.store, storage.KeyUserProfile, p)
}

// ComputeTargets derives daily targets for dateKey using the Mifflin-St Jeor
// equation scaled by activity level and adjusted for the goal.
func ComputeTargets(p *Profile, year int, dateKey string) Targets {
	age := year - p.BirthYear
	if p.BirthYear == 0 || age <= 0 {
		age = 30
	}
	bmr := 10*p.WeightKg + 6.25*p.HeightCm - 5*float64(age)
	if p.Sex == SexFemale {
		bmr -= 161
	} else {
		bmr += 5
	}

	factor, ok := activityFactors[p.ActivityLevel]
	if !ok {
		factor = activityFactors[ActivityLight]
	}
	kcal := bmr * factor
	switch p.Goal {
	case GoalLose:
		kcal -= 500
	case GoalGain:
		kcal += 300
	}
	kcal = math.Max(kcal, 1200)

	protein := 1.6 * p.WeightKg
	if p.Goal == GoalMaintain || p.Goal == "" {
		protein = 1.2 * p.WeightKg
	}

	minutes, steps := 30, 8000
	switch p.ActivityLevel {
	case ActivitySedentary:
		minutes, steps = 20, 6000
	case ActivityActive, ActivityAthlete:
		minutes, steps = 45, 10000
	}

	return Targets{
		Calories:      roundTo(kcal, 10),
		ProteinG:      int(math.Round(protein)),
		WaterMl:       roundTo(35*p.WeightKg, 50),
		ActiveMinutes: minutes,
		Steps:         steps,
		ComputedFor:   dateKey,
	}
}

// RefreshTargets recomputes targets in place and reports whether anything,
// including the day they were computed for, changed.
func RefreshTargets(p *Profile, year int, dateKey string) bool {
	next := ComputeTargets(p, year, dateKey)
	if p.Targets == next {
		return false
	}
	p.Targets = next
	return true
}

func roundTo(v float64, step int) int {
	return int(math.Round(v/float64(step))) * step
}
