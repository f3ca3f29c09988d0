package models

// Actor identifies the user performing or assigned an approval task. The
// engine never reads ambient auth state; every operation takes an explicit
// actor.
type Actor struct {
	ID   string `json:"id"   validate:"required"`
	Name string `json:"name,omitempty"`
}

// ActorSet is a set of actors keyed by ID. Resolution always yields a set,
// possibly empty; "nobody can act" handling lives in the orchestrator.
type ActorSet map[string]Actor

func NewActorSet(actors ...Actor) ActorSet {
	set := make(ActorSet, len(actors))
	for _, actor := range actors {
		set[actor.ID] = actor
	}

	return set
}

func (s ActorSet) Add(actor Actor) {
	s[actor.ID] = actor
}

func (s ActorSet) Contains(actorID string) bool {
	_, ok := s[actorID]

	return ok
}

func (s ActorSet) Empty() bool {
	return len(s) == 0
}

// List returns the members in no particular order.
func (s ActorSet) List() []Actor {
	actors := make([]Actor, 0, len(s))
	for _, actor := range s {
		actors = append(actors, actor)
	}

	return actors
}
