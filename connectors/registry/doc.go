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

/*
Package registry keeps the set of tool connectors served by the gateway.

# Overview

Connectors are registered once at startup under their Name() and looked up
by the gateway on every tool call:

	reg := registry.NewRegistry()
	if err := reg.Register(pgConnector); err != nil {
	    return err
	}

	connector, err := reg.Get("postgres")
	if errors.Is(err, registry.ErrNotFound) {
	    // 404
	}

# Health

HealthCheckAll runs every connector's HealthCheck concurrently with a
per-connector timeout. Errors are reported as unhealthy statuses so the
/health endpoint always gets a complete map.

# Shutdown

DisconnectAll calls Disconnect on every connector in name order and joins
the errors. Shared resources such as the database pool are owned by the
caller and closed separately.
*/
package registry
