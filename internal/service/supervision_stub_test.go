package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/internal/repository"
)

// memSupervision is an in-memory encadrement store. WithTx serialises
// transactions and restores the previous state when fn fails.
type memSupervision struct {
	mu           sync.Mutex
	encadrements map[string]models.Encadrement
	loads        map[string]int
	themes       map[string]models.Theme
	latestBefore *models.Encadrement
	txCount      int
}

func newMemSupervision() *memSupervision {
	return &memSupervision{
		encadrements: map[string]models.Encadrement{},
		loads:        map[string]int{},
		themes:       map[string]models.Theme{},
	}
}

func loadKey(teacherID, year string) string { return teacherID + "|" + year }

func (m *memSupervision) put(items ...models.Encadrement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.encadrements[item.ID] = item
	}
}

func (m *memSupervision) setLoad(teacherID, year string, consumed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[loadKey(teacherID, year)] = consumed
}

func (m *memSupervision) load(teacherID, year string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[loadKey(teacherID, year)]
}

func (m *memSupervision) get(id string) models.Encadrement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encadrements[id]
}

func (m *memSupervision) all() []models.Encadrement {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]models.Encadrement, 0, len(m.encadrements))
	for _, item := range m.encadrements {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (m *memSupervision) activeFor(studentID, year string) []models.Encadrement {
	var active []models.Encadrement
	for _, item := range m.all() {
		if item.StudentID == studentID && item.AcademicYear == year && item.Status.Active() {
			active = append(active, item)
		}
	}
	return active
}

func (m *memSupervision) FindByID(_ context.Context, id string) (*models.Encadrement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.encadrements[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (m *memSupervision) List(_ context.Context, filter models.EncadrementFilter) ([]models.Encadrement, int, error) {
	var items []models.Encadrement
	for _, item := range m.all() {
		if filter.StudentID != "" && item.StudentID != filter.StudentID {
			continue
		}
		if filter.SupervisorID != "" && !item.SupervisedBy(filter.SupervisorID) {
			continue
		}
		if filter.AcademicYear != "" && item.AcademicYear != filter.AcademicYear {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, item)
	}
	return items, len(items), nil
}

func (m *memSupervision) LatestBefore(_ context.Context, studentID, year string) (*models.Encadrement, error) {
	if m.latestBefore == nil || m.latestBefore.StudentID != studentID {
		return nil, nil
	}
	item := *m.latestBefore
	return &item, nil
}

func (m *memSupervision) WithTx(_ context.Context, fn func(tx repository.SupervisionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	encadrements := make(map[string]models.Encadrement, len(m.encadrements))
	for k, v := range m.encadrements {
		encadrements[k] = v
	}
	loads := make(map[string]int, len(m.loads))
	for k, v := range m.loads {
		loads[k] = v
	}
	themes := make(map[string]models.Theme, len(m.themes))
	for k, v := range m.themes {
		themes[k] = v
	}

	if err := fn(&memSupervisionTx{m: m}); err != nil {
		m.encadrements, m.loads, m.themes = encadrements, loads, themes
		return err
	}
	return nil
}

type memSupervisionTx struct {
	m *memSupervision
}

func (t *memSupervisionTx) LockStudentYear(context.Context, string, string) error { return nil }

func (t *memSupervisionTx) ActiveEncadrement(_ context.Context, studentID, year string) (*models.Encadrement, error) {
	for _, item := range t.m.encadrements {
		if item.StudentID == studentID && item.AcademicYear == year && item.Status.Active() {
			cp := item
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memSupervisionTx) EncadrementForUpdate(_ context.Context, id string) (*models.Encadrement, error) {
	item, ok := t.m.encadrements[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (t *memSupervisionTx) InsertEncadrement(_ context.Context, item *models.Encadrement) error {
	t.m.encadrements[item.ID] = *item
	return nil
}

func (t *memSupervisionTx) UpdateEncadrement(_ context.Context, item *models.Encadrement) error {
	if _, ok := t.m.encadrements[item.ID]; !ok {
		return sql.ErrNoRows
	}
	t.m.encadrements[item.ID] = *item
	return nil
}

func (t *memSupervisionTx) LockSupervisorLoad(_ context.Context, teacherID, year string) (int, error) {
	return t.m.loads[loadKey(teacherID, year)], nil
}

func (t *memSupervisionTx) IncrementSupervisorLoad(_ context.Context, teacherID, year string) error {
	t.m.loads[loadKey(teacherID, year)]++
	return nil
}

func (t *memSupervisionTx) InsertTheme(_ context.Context, theme *models.Theme) (bool, error) {
	key := theme.StudentID + "|" + theme.AcademicYear
	if _, ok := t.m.themes[key]; ok {
		return false, nil
	}
	t.m.themes[key] = *theme
	return true, nil
}

func (t *memSupervisionTx) ThemeForStudent(_ context.Context, studentID, year string) (*models.Theme, error) {
	theme, ok := t.m.themes[studentID+"|"+year]
	if !ok {
		return nil, nil
	}
	return &theme, nil
}

type memPeople struct {
	students map[string]*models.Student
	teachers map[string]*models.Teacher
}

type memStudents struct{ people *memPeople }

func (s memStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	student, ok := s.people.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *student
	return &cp, nil
}

type memTeachers struct{ people *memPeople }

func (s memTeachers) FindByID(_ context.Context, id string) (*models.Teacher, error) {
	teacher, ok := s.people.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *teacher
	return &cp, nil
}

type memPolicies struct {
	mu       sync.Mutex
	policies map[string]*models.QuotaPolicy
	replaced int
}

func (p *memPolicies) Get(_ context.Context, departmentID, year string) (*models.QuotaPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	policy, ok := p.policies[departmentID+"|"+year]
	if !ok {
		return nil, nil
	}
	cp := *policy
	return &cp, nil
}

func (p *memPolicies) Replace(_ context.Context, policy *models.QuotaPolicy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.policies == nil {
		p.policies = map[string]*models.QuotaPolicy{}
	}
	cp := *policy
	p.policies[policy.DepartmentID+"|"+policy.AcademicYear] = &cp
	p.replaced++
	return nil
}

type fixedYear string

func (y fixedYear) CurrentAcademicYear(context.Context) (string, error) { return string(y), nil }

type auditRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	actions := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type notifyCall struct {
	eventType  models.NotificationType
	recipients []string
}

type notifierRecorder struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *notifierRecorder) Notify(_ context.Context, eventType models.NotificationType, recipients []string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{eventType: eventType, recipients: recipients})
}

func (n *notifierRecorder) types() []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]models.NotificationType, 0, len(n.calls))
	for _, call := range n.calls {
		types = append(types, call.eventType)
	}
	return types
}
