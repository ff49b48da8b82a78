// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/shared/logger"
)

// ErrNotFound is returned by Get for an unregistered connector name
var ErrNotFound = errors.New("connector not found")

// DefaultHealthTimeout bounds a single connector health check
const DefaultHealthTimeout = 5 * time.Second

// Registry manages all registered connectors.
// Thread-safe for concurrent access
type Registry struct {
	connectors map[string]base.Connector
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]base.Connector),
		logger:     logger.New("registry"),
	}
}

// Register adds a connector under its Name().
// Returns error if a connector with the same name already exists
func (r *Registry) Register(connector base.Connector) error {
	if connector == nil {
		return fmt.Errorf("connector is nil")
	}
	name := connector.Name()
	if name == "" {
		return fmt.Errorf("connector name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("connector '%s' already registered", name)
	}
	r.connectors[name] = connector

	r.logger.Info("", "", "Registered connector", map[string]interface{}{
		"connector": name,
		"type":      connector.Type(),
		"tools":     len(connector.Tools()),
	})
	return nil
}

// Unregister removes a connector and disconnects it
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	connector, exists := r.connectors[name]
	delete(r.connectors, name)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := connector.Disconnect(ctx); err != nil {
		r.logger.Warn("", "", "Error disconnecting connector", map[string]interface{}{
			"connector": name,
			"error":     err.Error(),
		})
	}
	return nil
}

// Get retrieves a connector by name
func (r *Registry) Get(name string) (base.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connector, exists := r.connectors[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return connector, nil
}

// List returns all registered connector names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectorInfo describes a connector and its tools for listing
type ConnectorInfo struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Version string          `json:"version"`
	Tools   []base.ToolSpec `json:"tools"`
}

// Catalog returns every connector with its tools, sorted by name
func (r *Registry) Catalog() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.connectors))
	for name, c := range r.connectors {
		infos = append(infos, ConnectorInfo{
			Name:    name,
			Type:    c.Type(),
			Version: c.Version(),
			Tools:   c.Tools(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Count returns the number of registered connectors
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}

// HealthCheckAll checks every connector concurrently.
// A connector error becomes an unhealthy status instead of failing the batch.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]*base.HealthStatus {
	r.mu.RLock()
	snapshot := make(map[string]base.Connector, len(r.connectors))
	for name, c := range r.connectors {
		snapshot[name] = c
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]*base.HealthStatus, len(snapshot))
	)
	for name, connector := range snapshot {
		wg.Add(1)
		go func(name string, connector base.Connector) {
			defer wg.Done()

			hctx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
			defer cancel()

			status, err := connector.HealthCheck(hctx)
			if err != nil || status == nil {
				msg := "no health status returned"
				if err != nil {
					msg = err.Error()
				}
				r.logger.Warn("", "", "Health check failed", map[string]interface{}{
					"connector": name,
					"error":     msg,
				})
				status = &base.HealthStatus{Healthy: false, Error: msg, Timestamp: time.Now()}
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, connector)
	}
	wg.Wait()

	return results
}

// DisconnectAll disconnects every connector and returns the joined errors.
// Useful for graceful shutdown
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range sortedKeys(r.connectors) {
		if err := r.connectors[name].Disconnect(ctx); err != nil {
			r.logger.Error("", "", "Error disconnecting connector", map[string]interface{}{
				"connector": name,
				"error":     err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]base.Connector) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
