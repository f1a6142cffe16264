package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu         sync.Mutex
	schedules  map[string]time.Duration // map[scheduleID]interval
	triggers   map[string]int
	createErr  error
	deleteErr  error
	triggerErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
		triggers:  make(map[string]int),
	}
}

// UpsertWalletSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[ScheduleID(address, network)] = interval
	return nil
}

// DeleteWalletSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := ScheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// TriggerWalletRefresh counts triggers of an existing schedule.
func (m *MockScheduler) TriggerWalletRefresh(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggerErr != nil {
		return m.triggerErr
	}
	id := ScheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	m.triggers[id]++
	return nil
}

// SetCreateError makes UpsertWalletSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteWalletSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetTriggerError makes TriggerWalletRefresh return an error.
func (m *MockScheduler) SetTriggerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerErr = err
}

// ScheduleExists checks if a schedule exists for a wallet.
func (m *MockScheduler) ScheduleExists(address, network string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedules[ScheduleID(address, network)]
	return exists
}

// GetScheduleInterval returns the interval for a wallet's schedule.
func (m *MockScheduler) GetScheduleInterval(address, network string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[ScheduleID(address, network)]
	return interval, exists
}

// TriggerCount returns how often a wallet's refresh was triggered.
func (m *MockScheduler) TriggerCount(address, network string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers[ScheduleID(address, network)]
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.triggers = make(map[string]int)
	m.createErr = nil
	m.deleteErr = nil
	m.triggerErr = nil
}
