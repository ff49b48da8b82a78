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

// Package httpproxy provides the REST client shared by the upstream tool
// connectors (jira, wiki, virustotal).
//
// A Client is rooted at one base URL that is checked with base.ValidateURL
// when the client is built. Requests carry basic, bearer or api-key header
// authentication. Idempotent methods are retried with exponential backoff
// on transport errors and 408/429/5xx responses. Bodies are read up to a
// configurable limit.
//
// Response mapping:
//
//	204                 {"status": "success", "message": ...}
//	201, empty body     {"status": "created", "message": ...}
//	2xx                 decoded JSON (text bodies become {"response": ...})
//	non-2xx             *ProxyError "HTTP error: <code> - <reason>" with details
//
// Raw requests return a *Download with the body bytes.
package httpproxy
