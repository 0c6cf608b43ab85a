package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Default(t *testing.T) {
	tax, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "MainBankingMasterAgent", tax.Root.AgentName)
	assert.Equal(t, "main", tax.Root.Partition)

	var names []string
	for _, d := range tax.Domains {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Responders, d.Name)
	}
	assert.Equal(t, []string{"accounts", "cards", "transactions", "loans", "payees", "miscellaneous"}, names)

	misc, ok := tax.Domain("miscellaneous")
	require.True(t, ok)
	assert.Equal(t, "misc", misc.Partition)
	assert.Equal(t, "BankingServicesMasterAgent", misc.AgentName)

	_, ok = tax.Domain("mortgages")
	assert.False(t, ok)
}

func TestDomain_CategoryUnionsResponderTopics(t *testing.T) {
	tax, err := Load("")
	require.NoError(t, err)

	accounts, ok := tax.Domain("accounts")
	require.True(t, ok)
	cat := accounts.Category()
	assert.Equal(t, "accounts", cat.Name)
	assert.Contains(t, cat.ExemplarTopics, "balance")
	assert.Contains(t, cat.ExemplarTopics, "fixed deposit")

	seen := map[string]bool{}
	for _, topic := range cat.ExemplarTopics {
		assert.False(t, seen[topic], "duplicate topic %q", topic)
		seen[topic] = true
	}

	assert.Len(t, tax.Categories(), len(tax.Domains))
	assert.Len(t, accounts.Categories(), len(accounts.Responders))
}

func TestKnowledgePartitions(t *testing.T) {
	tax, err := Load("")
	require.NoError(t, err)

	parts := tax.KnowledgePartitions()
	require.Len(t, parts, 6)
	assert.Equal(t, "accounts", parts[0].Name)
	assert.Equal(t, []string{"core_banking.json"}, parts[0].Files)
	assert.Equal(t, []string{"transactions.json"}, parts[2].Files)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no domains",
			yaml: "root: {name: main, title: Main, agent_name: A, partition: main, endpoint: /chat}\n",
			want: "domains",
		},
		{
			name: "responder without topics",
			yaml: `
root: {name: main, title: Main, agent_name: A, partition: main, endpoint: /chat}
domains:
  - name: cards
    title: Cards
    agent_name: C
    endpoint: /cards/chat
    corpus: [a.json]
    responders:
      - {name: r1, title: R1, agent_name: R}
`,
			want: "topics",
		},
		{
			name: "duplicate names",
			yaml: `
root: {name: main, title: Main, agent_name: A, partition: main, endpoint: /chat}
domains:
  - name: cards
    title: Cards
    agent_name: C
    endpoint: /cards/chat
    corpus: [a.json]
    responders:
      - {name: cards, title: R1, agent_name: R, topics: [x]}
`,
			want: "duplicate node name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: {name: main, title: Main, agent_name: A, partition: main, endpoint: /chat}
domains:
  - name: cards
    title: Cards
    agent_name: C
    endpoint: /cards/chat
    corpus: [a.json]
    responders:
      - {name: r1, title: R1, agent_name: R, topics: [credit card]}
`), 0o600))

	tax, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tax.Domains, 1)
	assert.Equal(t, "cards", tax.Domains[0].Partition, "partition defaults to the domain name")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
