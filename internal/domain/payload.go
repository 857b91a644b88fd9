package domain

// WorkerPayload is the configuration document handed to the booking worker
type WorkerPayload struct {
	ReservationID string   `json:"reservationId"`
	Account       *Account `json:"account,omitempty"`
	Locations     []string `json:"locations"`
	Date          string   `json:"date"`
	Hours         []string `json:"hours"`
	PriceType     []string `json:"priceType"`
	CourtType     []string `json:"courtType"`
	Players       []Player `json:"players"`
	DryRun        bool     `json:"dryRun,omitempty"`
}

// Payload converts a stored job into the document the worker expects
func (j *Job) Payload() WorkerPayload {
	p := WorkerPayload{
		ReservationID: j.ID,
		Account:       j.Account,
		Date:          j.Date,
		Players:       j.Players,
		DryRun:        j.DryRun,
	}
	if j.Location != "" {
		p.Locations = []string{j.Location}
	}
	if j.Hour != "" {
		p.Hours = []string{j.Hour}
	}
	if j.PriceType != "" {
		p.PriceType = []string{j.PriceType}
	}
	if j.CourtType != "" {
		p.CourtType = []string{j.CourtType}
	}
	return p
}

// Locations lists the courts the booking site offers
var Locations = []string{
	"Alain Mimoun", "Amandiers", "Atlantique", "Aurelle de Paladines", "Bertrand Dauvin",
	"Bobigny", "Broquedis - Asnières", "Candie", "Carnot", "Château des Rentiers",
	"Cordelières", "Courcelles", "Croix Nivert", "Docteurs Déjerine", "Dunois",
	"Edouard Pailleron", "Elisabeth", "Georges Carpentier", "Halle Fret",
	"Henry de Montherlant", "Jandelle", "Jesse Owens", "Jules Ladoumègue",
	"La Faluère", "Léo Lagrange", "Max Rousié", "Moureu - Baudricourt",
	"NEUVE SAINT PIERRE", "Niox", "Paul Barruel", "Philippe Auguste", "Poissonniers",
	"Poliveau", "Poterne des Peupliers", "Puteaux", "René et André Mourlon",
	"Rigoulot - La Plaine", "Sablonnière", "Sept arpents", "Suzanne Lenglen",
	"Thiéré", "Valeyre",
}

// FormDefaults are the values a new job form starts with
type FormDefaults struct {
	Hour          string   `json:"hour"`
	Location      string   `json:"location"`
	PriceType     []string `json:"priceType"`
	CourtType     []string `json:"courtType"`
	ScheduledTime string   `json:"scheduledTime"`
	Locations     []string `json:"locations"`
}

// DefaultForm returns the stock form defaults
func DefaultForm() FormDefaults {
	return FormDefaults{
		Hour:          "09",
		Location:      "Alain Mimoun",
		PriceType:     []string{"Tarif plein"},
		CourtType:     []string{"Découvert"},
		ScheduledTime: "00:00",
		Locations:     Locations,
	}
}
