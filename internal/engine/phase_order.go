package engine

type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseLoading  Phase = "LOADING"
	PhaseInBattle Phase = "IN_BATTLE"
	PhaseResults  Phase = "RESULTS"
)

// PhaseOrder lists the legal forward transitions. Reset (any -> LOBBY) and
// room deletion are not phase transitions and are not listed.
var PhaseOrder = map[Phase]Phase{
	PhaseLobby:    PhaseLoading,
	PhaseLoading:  PhaseInBattle,
	PhaseInBattle: PhaseResults,
	PhaseResults:  PhaseLobby,
}

func CanTransition(from, to Phase) bool {
	next, ok := PhaseOrder[from]
	return ok && next == to
}
