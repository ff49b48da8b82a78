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

package config

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecretsClient struct {
	value *string
	err   error
	calls int
}

func (f *fakeSecretsClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

const testARN = "arn:aws:secretsmanager:us-east-1:123456789012:secret:gateway-db-abc123"

func TestMaskARN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{testARN, "...b-abc123"},
		{"short", "***"},
		{"123456789012", "***"},
		{"1234567890123", "...67890123"},
	}
	for _, tt := range tests {
		if got := maskARN(tt.in); got != tt.want {
			t.Errorf("maskARN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAWSSecretsManager_JSONSecretIsCached(t *testing.T) {
	client := &fakeSecretsClient{value: aws.String(`{"username":"app","password":"s3cret"}`)}
	sm := newAWSSecretsManager(client, time.Minute)

	for i := 0; i < 3; i++ {
		secret, err := sm.GetSecret(context.Background(), testARN)
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		if secret["password"] != "s3cret" {
			t.Errorf("password = %q, want %q", secret["password"], "s3cret")
		}
	}
	if client.calls != 1 {
		t.Errorf("client calls = %d, want 1 while cached", client.calls)
	}

	sm.InvalidateSecret(testARN)
	if _, err := sm.GetSecret(context.Background(), testARN); err != nil {
		t.Fatalf("GetSecret() after invalidate error = %v", err)
	}
	if client.calls != 2 {
		t.Errorf("client calls = %d, want 2 after invalidate", client.calls)
	}
}

func TestAWSSecretsManager_PlainStringSecret(t *testing.T) {
	sm := newAWSSecretsManager(&fakeSecretsClient{value: aws.String("plain-password")}, 0)

	secret, err := sm.GetSecret(context.Background(), testARN)
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	want := map[string]string{"value": "plain-password"}
	if !reflect.DeepEqual(secret, want) {
		t.Errorf("GetSecret() = %v, want %v", secret, want)
	}
}

func TestAWSSecretsManager_Errors(t *testing.T) {
	sm := newAWSSecretsManager(&fakeSecretsClient{err: errors.New("access denied")}, 0)
	_, err := sm.GetSecret(context.Background(), testARN)
	if err == nil {
		t.Fatal("GetSecret() error = nil, want access denied")
	}
	if strings.Contains(err.Error(), "123456789012") {
		t.Errorf("error %q leaks the account id, ARN must be masked", err.Error())
	}

	sm = newAWSSecretsManager(&fakeSecretsClient{}, 0)
	_, err = sm.GetSecret(context.Background(), testARN)
	if err == nil || !strings.Contains(err.Error(), "no string value") {
		t.Errorf("GetSecret() error = %v, want no string value", err)
	}
}

func TestLocalSecretsManager(t *testing.T) {
	sm := NewLocalSecretsManager()
	if _, err := sm.GetSecret(context.Background(), "db"); err == nil {
		t.Error("GetSecret() on empty store should fail")
	}

	sm.SetSecret("db", map[string]string{"password": "pw"})
	secret, err := sm.GetSecret(context.Background(), "db")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if secret["password"] != "pw" {
		t.Errorf("password = %q, want %q", secret["password"], "pw")
	}
}

func TestEnvSecretsManager(t *testing.T) {
	t.Setenv("GWTEST_PASSWORD", "from-env")
	t.Setenv("GWTEST_USERNAME", "")

	secret, err := EnvSecretsManager{}.GetSecret(context.Background(), "GWTEST")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	want := map[string]string{"password": "from-env"}
	if !reflect.DeepEqual(secret, want) {
		t.Errorf("GetSecret() = %v, want %v", secret, want)
	}

	if _, err := (EnvSecretsManager{}).GetSecret(context.Background(), "GWTEST_NONE"); err == nil {
		t.Error("GetSecret() with no variables set should fail")
	}
}

func TestResolveDatabasePassword(t *testing.T) {
	sm := NewLocalSecretsManager()
	sm.SetSecret("json", map[string]string{"password": "pw1"})
	sm.SetSecret("plain", map[string]string{"value": "pw2"})
	sm.SetSecret("other", map[string]string{"token": "x"})

	tests := []struct {
		name    string
		arn     string
		want    string
		wantErr bool
	}{
		{"no reference keeps password", "", "original", false},
		{"password field", "json", "pw1", false},
		{"plain value", "plain", "pw2", false},
		{"no usable field", "other", "original", true},
		{"missing secret", "missing", "original", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DatabaseConfig{Password: "original", PasswordSecretARN: tt.arn}
			err := ResolveDatabasePassword(context.Background(), sm, &cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ResolveDatabasePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if cfg.Password != tt.want {
				t.Errorf("Password = %q, want %q", cfg.Password, tt.want)
			}
		})
	}
}
