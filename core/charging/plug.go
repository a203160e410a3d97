package charging

import "sync"

// PlugStatus describes the occupancy of a plug.
type PlugStatus string

const (
	PlugFree         PlugStatus = "free"
	PlugOccupied     PlugStatus = "occupied"
	PlugOutOfService PlugStatus = "out_of_service"
)

// Valid reports whether s is a known status.
func (s PlugStatus) Valid() bool {
	switch s {
	case PlugFree, PlugOccupied, PlugOutOfService:
		return true
	}
	return false
}

// Plug is one physical charger owned by a Pool.
type Plug struct {
	id      int
	powerKW float64

	mu     sync.Mutex
	status PlugStatus
	carID  int
	energy float64
}

// PlugData is the exported view of a plug.
type PlugData struct {
	ID                int        `json:"id"`
	Status            PlugStatus `json:"status"`
	CarID             int        `json:"car_id,omitempty"`
	EnergyConsumption float64    `json:"energy_consumption"`
}

func newPlug(id int, powerKW float64) *Plug {
	return &Plug{id: id, powerKW: powerKW, status: PlugFree}
}

// ID returns the plug identifier, unique within its pool.
func (p *Plug) ID() int { return p.id }

// PowerKW is the draw of the plug while a car is charging.
func (p *Plug) PowerKW() float64 { return p.powerKW }

func (p *Plug) Status() PlugStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// CarID returns the occupant, 0 when none.
func (p *Plug) CarID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carID
}

// EnergyConsumption returns the instantaneous draw in kW.
func (p *Plug) EnergyConsumption() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.energy
}

// SetEnergyConsumption overrides the instantaneous draw in kW.
func (p *Plug) SetEnergyConsumption(kw float64) {
	p.mu.Lock()
	p.energy = kw
	p.mu.Unlock()
}

// Data returns a consistent copy of the plug state.
func (p *Plug) Data() PlugData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlugData{ID: p.id, Status: p.status, CarID: p.carID, EnergyConsumption: p.energy}
}

func (p *Plug) tryOccupy(carID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PlugFree {
		return false
	}
	p.status = PlugOccupied
	p.carID = carID
	p.energy = p.powerKW
	return true
}

// vacate frees the plug and reports whether it was occupied.
func (p *Plug) vacate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PlugOccupied {
		return false
	}
	p.status = PlugFree
	p.carID = 0
	p.energy = 0
	return true
}

func (p *Plug) setStatus(from, to PlugStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != from {
		return false
	}
	p.status = to
	return true
}
