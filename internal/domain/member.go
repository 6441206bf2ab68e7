package domain

type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Member represents a participant's place in a session.
// No transport or lifecycle logic here.
type Member struct {
	Participant *Participant
	Role        Role
}

func NewMember(p *Participant, role Role) *Member {
	return &Member{Participant: p, Role: role}
}
