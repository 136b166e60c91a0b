package scheduling

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type DoctorInfo struct {
	Exists bool
	Active bool
}

type PatientInfo struct {
	Exists bool
}

// Directory answers identity questions owned by the patient/doctor records
// system. The scheduling core never writes to it.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (DoctorInfo, error)
	GetPatient(ctx context.Context, id uuid.UUID) (PatientInfo, error)
}

// PgDirectory reads the doctors and patients tables.
type PgDirectory struct {
	pool PgxPool
}

func NewPgDirectory(pool PgxPool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (DoctorInfo, error) {
	var active bool
	err := d.pool.QueryRow(ctx, `SELECT active FROM doctors WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DoctorInfo{}, nil
		}
		return DoctorInfo{}, err
	}
	return DoctorInfo{Exists: true, Active: active}, nil
}

func (d *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (PatientInfo, error) {
	var one int
	err := d.pool.QueryRow(ctx, `SELECT 1 FROM patients WHERE id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PatientInfo{}, nil
		}
		return PatientInfo{}, err
	}
	return PatientInfo{Exists: true}, nil
}

// MemoryDirectory is a Directory backed by maps, for tests and the memory backend.
type MemoryDirectory struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]bool
	patients map[uuid.UUID]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors:  make(map[uuid.UUID]bool),
		patients: make(map[uuid.UUID]struct{}),
	}
}

func (d *MemoryDirectory) PutDoctor(id uuid.UUID, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors[id] = active
}

func (d *MemoryDirectory) PutPatient(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[id] = struct{}{}
}

func (d *MemoryDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (DoctorInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	active, ok := d.doctors[id]
	return DoctorInfo{Exists: ok, Active: active}, nil
}

func (d *MemoryDirectory) GetPatient(ctx context.Context, id uuid.UUID) (PatientInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.patients[id]
	return PatientInfo{Exists: ok}, nil
}
