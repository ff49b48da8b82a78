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

// Package confluence exposes read-only Confluence Cloud calls under the
// connector name "wiki". Requests use https://<ATLASSIAN_DOMAIN>/wiki/rest/api
// with the CONFLUENCE_PAT bearer token.
package confluence
