// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"fmt"

	"github.com/kadirpekel/agenthub/pkg/config"
)

// NewFromConfig creates a vector provider from configuration.
func NewFromConfig(cfg *config.VectorConfig) (Provider, error) {
	if cfg == nil {
		return NewNilProvider(), nil
	}

	switch cfg.Type {
	case "chromem":
		return NewChromemProvider(ChromemConfig{
			PersistPath: cfg.PersistPath,
			Compress:    cfg.Compress,
		})
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	case "pinecone":
		return NewPineconeProvider(PineconeConfig{
			APIKey:    cfg.APIKey,
			IndexHost: cfg.IndexHost,
			Namespace: cfg.Namespace,
		})
	case "":
		return NewNilProvider(), nil
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}
