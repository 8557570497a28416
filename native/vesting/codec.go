package vesting

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	errEmptySchedule = errors.New("vesting: schedule is empty")
	errTooManySteps  = errors.New("vesting: schedule has too many steps")
)

const (
	// MaxWaitTime bounds the wait time of a single step, expressed in days.
	MaxWaitTime = 9999

	// Each step occupies stepBits bits inside a 256-bit word: the wait time
	// in the high waitBits bits and the cumulative percentage in the low
	// pctBits bits. A zero field terminates the sequence, which is
	// unambiguous because validation forbids a zero percentage.
	waitBits = 14
	pctBits  = 7
	stepBits = waitBits + pctBits

	stepsPerWord = 256 / stepBits

	// MaxWords is the number of words a fully populated schedule occupies.
	MaxWords = 3

	// MaxSteps is the hard cap on schedule length.
	MaxSteps = stepsPerWord * MaxWords
)

// Step is a single unlock point of a vesting schedule: after WaitTime days
// from token listing, Percentage percent of the allocation is unlocked.
// Percentages are cumulative.
type Step struct {
	WaitTime   uint32 `json:"waitTime"`
	Percentage uint8  `json:"percentage"`
}

// Schedule is a validated vesting schedule packed into fixed-width words.
type Schedule struct {
	words []uint256.Int
}

// ValidateAndPack checks the schedule rules and returns the packed
// representation. Wait times must be strictly increasing and at most
// MaxWaitTime, percentages strictly increasing with the final step at 100.
func ValidateAndPack(steps []Step) (*Schedule, error) {
	if len(steps) == 0 {
		return nil, errEmptySchedule
	}
	if len(steps) > MaxSteps {
		return nil, errTooManySteps
	}
	for i, step := range steps {
		if step.WaitTime > MaxWaitTime {
			return nil, fmt.Errorf("vesting: step %d wait time %d exceeds %d days", i, step.WaitTime, MaxWaitTime)
		}
		if i > 0 && step.WaitTime <= steps[i-1].WaitTime {
			return nil, fmt.Errorf("vesting: step %d wait time must be greater than the previous step", i)
		}
		if step.Percentage == 0 || step.Percentage > 100 {
			return nil, fmt.Errorf("vesting: step %d percentage %d out of range (1-100)", i, step.Percentage)
		}
		if i > 0 && step.Percentage <= steps[i-1].Percentage {
			return nil, fmt.Errorf("vesting: step %d percentage must be greater than the previous step", i)
		}
	}
	if steps[len(steps)-1].Percentage != 100 {
		return nil, fmt.Errorf("vesting: last step must vest 100%%, got %d", steps[len(steps)-1].Percentage)
	}
	words := make([]uint256.Int, (len(steps)+stepsPerWord-1)/stepsPerWord)
	for i, step := range steps {
		field := uint256.NewInt(uint64(step.WaitTime)<<pctBits | uint64(step.Percentage))
		field.Lsh(field, uint(i%stepsPerWord)*stepBits)
		words[i/stepsPerWord].Or(&words[i/stepsPerWord], field)
	}
	return &Schedule{words: words}, nil
}

// FromWords rebuilds a schedule from its packed words, re-validating the
// decoded steps so a corrupted word cannot smuggle in an invalid schedule.
func FromWords(words []uint256.Int) (*Schedule, error) {
	if len(words) == 0 || len(words) > MaxWords {
		return nil, fmt.Errorf("vesting: expected 1-%d packed words, got %d", MaxWords, len(words))
	}
	s := &Schedule{words: words}
	return ValidateAndPack(s.Steps())
}

// Words returns a copy of the packed representation.
func (s *Schedule) Words() []uint256.Int {
	out := make([]uint256.Int, len(s.words))
	copy(out, s.words)
	return out
}

// Steps unpacks the schedule back into its step sequence. Unpacking exactly
// inverts ValidateAndPack.
func (s *Schedule) Steps() []Step {
	steps := make([]Step, 0, stepsPerWord)
	var field uint256.Int
	for w := range s.words {
		for i := 0; i < stepsPerWord; i++ {
			field.Rsh(&s.words[w], uint(i)*stepBits)
			packed := field.Uint64() & (1<<stepBits - 1)
			if packed == 0 {
				return steps
			}
			steps = append(steps, Step{
				WaitTime:   uint32(packed >> pctBits),
				Percentage: uint8(packed & (1<<pctBits - 1)),
			})
		}
	}
	return steps
}

// VestedPercentage returns the cumulative percentage unlocked after the
// given number of elapsed days. The schedule is a staircase: the greatest
// step whose wait time has passed pins the percentage, with no
// interpolation between steps.
func (s *Schedule) VestedPercentage(elapsedDays uint32) uint8 {
	vested := uint8(0)
	for _, step := range s.Steps() {
		if elapsedDays < step.WaitTime {
			break
		}
		vested = step.Percentage
	}
	return vested
}

// MarshalJSON encodes the schedule as an array of hex-encoded packed words.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	encoded := make([]string, len(s.words))
	for i := range s.words {
		encoded[i] = s.words[i].Hex()
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON decodes and re-validates a schedule stored as hex words.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var encoded []string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	words := make([]uint256.Int, len(encoded))
	for i, hex := range encoded {
		word, err := uint256.FromHex(hex)
		if err != nil {
			return fmt.Errorf("vesting: invalid packed word %d: %w", i, err)
		}
		words[i] = *word
	}
	decoded, err := FromWords(words)
	if err != nil {
		return err
	}
	s.words = decoded.words
	return nil
}
