package board

import (
	"math"
	"slices"

	"github.com/taskboard/kanban/internal/schema"
)

// DefaultActivationDistance is how far the pointer must travel before a press
// becomes a drag.
const DefaultActivationDistance = 8

// Point is a pointer position.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left, Top, Width, Height float64
}

// Translate moves r by d.
func (r Rect) Translate(d Point) Rect {
	r.Left += d.X
	r.Top += d.Y
	return r
}

// Contains reports whether p lies inside r (edges included).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X <= r.Left+r.Width && p.Y >= r.Top && p.Y <= r.Top+r.Height
}

// Corners returns top-left, top-right, bottom-left, bottom-right.
func (r Rect) Corners() [4]Point {
	right, bottom := r.Left+r.Width, r.Top+r.Height
	return [4]Point{
		{r.Left, r.Top},
		{right, r.Top},
		{r.Left, bottom},
		{right, bottom},
	}
}

// Droppable is a drop target: a column or a task card.
type Droppable struct {
	ID   string
	Rect Rect
}

// Collision is a droppable ranked by distance.
type Collision struct {
	ID       string
	Distance float64
}

// ClosestCorners ranks droppables by the mean distance between their corners
// and the corresponding corners of the dragged rectangle, nearest first.
// Ties keep the droppables' order.
func ClosestCorners(dragged Rect, droppables []Droppable) []Collision {
	corners := dragged.Corners()
	out := make([]Collision, 0, len(droppables))
	for _, d := range droppables {
		var sum float64
		for i, c := range d.Rect.Corners() {
			sum += math.Hypot(c.X-corners[i].X, c.Y-corners[i].Y)
		}
		out = append(out, Collision{ID: d.ID, Distance: sum / 4})
	}
	slices.SortStableFunc(out, func(a, b Collision) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return out
}

// Over returns the ID of the closest droppable, or "" when there is none.
func Over(dragged Rect, droppables []Droppable) string {
	collisions := ClosestCorners(dragged, droppables)
	if len(collisions) == 0 {
		return ""
	}
	return collisions[0].ID
}

// ResolveDrop decides the status change for dropping activeID over overID.
// overID may be a column ID or another task's ID. ok is false when nothing
// should change: no target, unknown task, or the same status.
func ResolveDrop(tasks []schema.Task, activeID, overID string) (status schema.Status, ok bool) {
	if overID == "" {
		return "", false
	}
	i := slices.IndexFunc(tasks, func(t schema.Task) bool { return t.ID == activeID })
	if i < 0 {
		return "", false
	}
	active := tasks[i]

	var target schema.Status
	if col, found := ColumnByID(overID); found {
		target = col.Status
	} else if j := slices.IndexFunc(tasks, func(t schema.Task) bool { return t.ID == overID }); j >= 0 {
		target = tasks[j].Status
	}

	if target == "" || target == active.Status {
		return "", false
	}
	return target, true
}

// GestureKind is how a press ended.
type GestureKind int

const (
	// GestureNone: nothing was pressed, or the gesture was cancelled.
	GestureNone GestureKind = iota
	// GestureClick: released before moving past the activation distance.
	GestureClick
	// GestureDrop: released after a drag.
	GestureDrop
)

// Gesture is the outcome of Sensor.Release.
type Gesture struct {
	Kind     GestureKind
	ActiveID string
	// Delta is the pointer travel from press to release.
	Delta Point
}

// Sensor turns pointer events into clicks and drags. A press becomes a drag
// only once the pointer has moved more than Distance from where it went down,
// so short jitters still count as clicks.
type Sensor struct {
	Distance float64

	pressed  bool
	dragging bool
	activeID string
	origin   Point
	current  Point
}

// NewSensor returns a sensor with the given activation distance; a
// non-positive distance uses DefaultActivationDistance.
func NewSensor(distance float64) *Sensor {
	if distance <= 0 {
		distance = DefaultActivationDistance
	}
	return &Sensor{Distance: distance}
}

// Press starts a gesture on the item id at p.
func (s *Sensor) Press(id string, p Point) {
	s.pressed = true
	s.dragging = false
	s.activeID = id
	s.origin = p
	s.current = p
}

// Move updates the pointer. It returns true on the move that activates the
// drag.
func (s *Sensor) Move(p Point) bool {
	if !s.pressed {
		return false
	}
	s.current = p
	if s.dragging {
		return false
	}
	d := p.Sub(s.origin)
	if math.Hypot(d.X, d.Y) > s.Distance {
		s.dragging = true
		return true
	}
	return false
}

// Release ends the gesture at p.
func (s *Sensor) Release(p Point) Gesture {
	if !s.pressed {
		return Gesture{}
	}
	s.Move(p)
	g := Gesture{Kind: GestureClick, ActiveID: s.activeID, Delta: s.current.Sub(s.origin)}
	if s.dragging {
		g.Kind = GestureDrop
	}
	s.Cancel()
	return g
}

// Cancel abandons the gesture.
func (s *Sensor) Cancel() {
	*s = Sensor{Distance: s.Distance}
}

// Dragging reports whether a drag is active.
func (s *Sensor) Dragging() bool { return s.dragging }

// ActiveID is the pressed item, or "".
func (s *Sensor) ActiveID() string { return s.activeID }

// Delta is the pointer travel since the press.
func (s *Sensor) Delta() Point { return s.current.Sub(s.origin) }
