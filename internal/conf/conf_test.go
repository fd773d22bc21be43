package conf

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadReaderAppliesDefaults(t *testing.T) {
	c, err := LoadReader(strings.NewReader(""))
	require.NoError(t, err)

	require.Equal(t, 554, c.Port)
	require.Equal(t, 1024, c.MaximumClients)
	require.Equal(t, 60, c.ClientInactivityTimeoutSeconds)
	require.Equal(t, "ASTI Media Server", c.ServerName)
	require.Equal(t, 80, c.HTTPPort)
	require.Equal(t, 555, c.UDPPort)
	require.Equal(t, 30, c.MaintenanceIntervalSeconds)
}

func TestLoadReaderParsesSources(t *testing.T) {
	yamlDoc := `
sources:
  cam1:
    url: rtsp://upstream/cam1
    aliases: [front]
    user: alice
    pass: secret
    authScheme: digest
`
	c, err := LoadReader(strings.NewReader(yamlDoc))
	require.NoError(t, err)

	sc, ok := c.Sources["cam1"]
	require.True(t, ok)
	require.Equal(t, "cam1", sc.Name)
	require.Equal(t, AuthDigest, sc.AuthSchemeParsed)
	require.Equal(t, []string{"front"}, sc.Aliases)
}

func TestLoadReaderRejectsMissingURL(t *testing.T) {
	yamlDoc := `
sources:
  cam1:
    user: alice
`
	_, err := LoadReader(strings.NewReader(yamlDoc))
	require.Error(t, err)
}

func TestLoadReaderRejectsNonAlphanumericUser(t *testing.T) {
	yamlDoc := `
sources:
  cam1:
    url: rtsp://upstream/cam1
    user: "al ice"
`
	_, err := LoadReader(strings.NewReader(yamlDoc))
	require.Error(t, err)
}

func TestLoadReaderRejectsUnsupportedAuthScheme(t *testing.T) {
	yamlDoc := `
sources:
  cam1:
    url: rtsp://upstream/cam1
    authScheme: hmac
`
	_, err := LoadReader(strings.NewReader(yamlDoc))
	require.Error(t, err)
}

func TestLoadReaderRejectsInvertedUDPPortRange(t *testing.T) {
	yamlDoc := `
minimumUdpPort: 20000
maximumUdpPort: 10000
`
	_, err := LoadReader(strings.NewReader(yamlDoc))
	require.Error(t, err)
}

func TestTimeoutHelpers(t *testing.T) {
	c := &Conf{ReceiveTimeoutMs: 500, SendTimeoutMs: 250, MaintenanceIntervalSeconds: 5}
	require.Equal(t, 500*time.Millisecond, c.ReceiveTimeout())
	require.Equal(t, 250*time.Millisecond, c.SendTimeout())
	require.Equal(t, 5*time.Second, c.MaintenanceInterval())
}
