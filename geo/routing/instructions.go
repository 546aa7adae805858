package routing

import (
	"fmt"
	"math"
	"strings"

	"github.com/wonpark/navlink/geo"
)

// passedStepM is how close the driver must be to a maneuver point before
// guidance moves on to the following step.
const passedStepM = 30

// immediateM is the distance under which a maneuver is announced without a
// leading "In ...".
const immediateM = 15

// NextStep picks the upcoming maneuver for a position near the route and
// returns it with the remaining distance to it. The heuristic is the step
// whose maneuver point is closest to the position, advanced by one once
// that point is effectively reached. ok is false when the route has no
// steps.
func (r *Route) NextStep(pos geo.Coordinate) (step Step, distance float64, ok bool) {
	if r == nil || len(r.Steps) == 0 {
		return Step{}, 0, false
	}

	best := 0
	bestDist := math.MaxFloat64
	for i, s := range r.Steps {
		if d := pos.Distance(s.Location); d < bestDist {
			best, bestDist = i, d
		}
	}
	if bestDist < passedStepM && best+1 < len(r.Steps) {
		best++
		bestDist = pos.Distance(r.Steps[best].Location)
	}
	return r.Steps[best], bestDist, true
}

// Guidance renders the spoken instruction for a position on the route.
func (r *Route) Guidance(pos geo.Coordinate) (string, bool) {
	step, distance, ok := r.NextStep(pos)
	if !ok {
		return "", false
	}
	return FormatStep(step, distance), true
}

// FormatStep renders one maneuver as a spoken instruction, given the
// remaining distance in meters to its location.
func FormatStep(step Step, distance float64) string {
	if step.Maneuver.Type == "arrive" {
		if distance < passedStepM {
			return "You have arrived at your destination"
		}
		return fmt.Sprintf("In %s, you will arrive at your destination", FormatDistance(distance))
	}

	phrase := maneuverPhrase(step.Maneuver, step.Name)
	if distance < immediateM {
		return phrase
	}
	return fmt.Sprintf("In %s, %s", FormatDistance(distance), lowerFirst(phrase))
}

// FormatDistance renders meters the way a navigator speaks them: rounded
// to ten meters below a kilometer, tenths of a kilometer above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		rounded := int(math.Round(meters/10)) * 10
		if rounded < 10 {
			rounded = 10
		}
		return fmt.Sprintf("%dm", rounded)
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

func maneuverPhrase(m Maneuver, road string) string {
	on := ""
	onto := ""
	if road != "" {
		on = " on " + road
		onto = " onto " + road
	}

	switch m.Type {
	case "depart":
		return "Head out" + on
	case "turn", "end of road":
		phrase := turnPhrase(m.Modifier)
		if road != "" && m.Modifier != "uturn" {
			phrase += " onto " + road
		}
		return phrase
	case "continue", "new name":
		return "Continue" + on
	case "merge":
		if m.Modifier != "" {
			return "Merge " + m.Modifier + on
		}
		return "Merge" + on
	case "on ramp":
		return "Take the ramp" + onto
	case "off ramp":
		return "Take the exit" + onto
	case "fork":
		if m.Modifier != "" {
			return "Keep " + m.Modifier + " at the fork" + onto
		}
		return "Keep to the fork" + onto
	case "roundabout", "rotary":
		return "Enter the roundabout"
	case "exit roundabout", "exit rotary":
		return "Exit the roundabout" + onto
	default:
		if m.Modifier != "" {
			return "Continue " + m.Modifier + on
		}
		return "Continue" + on
	}
}

func turnPhrase(modifier string) string {
	switch modifier {
	case "uturn":
		return "Make a U-turn"
	case "straight":
		return "Continue straight"
	case "sharp right", "sharp left", "slight right", "slight left":
		return "Make a " + modifier
	case "right", "left":
		return "Turn " + modifier
	default:
		return "Turn"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
