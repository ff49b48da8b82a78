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

// Package jira exposes Jira Cloud REST v3 calls as gateway tools.
//
// Configuration comes from ATLASSIAN_DOMAIN, JIRA_USER_EMAIL and
// JIRA_API_TOKEN. Tool arguments use snake_case names (issue_id_or_key,
// jql_query, start_at) and are mapped to Jira's path and query parameters.
package jira
