// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package discovery implementa anúncio e browse de serviço estilo mDNS
// para o server do screenlink: um serviço do tipo `_<app>._tcp.local.`,
// publicado com um UID derivado do endereço de bind e uma propriedade de
// hostname estilo TXT, descobrível por clients sem endereço de server
// pré-configurado.
//
// A codificação announce/query/response no wire é deste próprio package
// — um formato compacto de magic bytes e prefixo de comprimento no mesmo
// estilo que internal/wire usa para o protocolo principal, carregado
// sobre um socket UDP multicast simples. Só nós do screenlink precisam
// se encontrar, então não há tentativa de compatibilidade RFC 1035/6762
// com browsers Bonjour/Avahi.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// MulticastGroup é o endereço e porta multicast padrão do mDNS (RFC
// 6762), reusado aqui como ponto de encontro ainda que a codificação
// trafegada sobre ele seja a deste package, não DNS RFC 1035.
var MulticastGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// Magic identifica um pacote de descoberta antes do byte de tipo de
// mensagem.
var Magic = [2]byte{'D', 'S'}

type msgType byte

const (
	msgQuery    msgType = 0x00
	msgResponse msgType = 0x01
)

// Instance é uma instância de server descoberta.
type Instance struct {
	UID      string
	Address  string
	Port     int
	Hostname string
}

// ErrMalformedPacket é retornado por decode para qualquer pacote de
// descoberta estruturalmente inválido; espera-se que os chamadores
// apenas o descartem.
var ErrMalformedPacket = errors.New("discovery: malformed packet")

type packet struct {
	Type     msgType
	AppName  string
	UID      string
	Hostname string
	Port     int
}

func encode(p packet) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, Magic[0], Magic[1], byte(p.Type))
	buf = appendString(buf, p.AppName)
	buf = appendString(buf, p.UID)
	buf = appendString(buf, p.Hostname)
	var portBytes [4]byte
	binary.BigEndian.PutUint32(portBytes[:], uint32(p.Port))
	buf = append(buf, portBytes[:]...)
	return buf
}

func decode(b []byte) (packet, error) {
	if len(b) < 3 || b[0] != Magic[0] || b[1] != Magic[1] {
		return packet{}, ErrMalformedPacket
	}
	p := packet{Type: msgType(b[2])}
	rest := b[3:]

	appName, rest, err := readString(rest)
	if err != nil {
		return packet{}, err
	}
	uid, rest, err := readString(rest)
	if err != nil {
		return packet{}, err
	}
	hostname, rest, err := readString(rest)
	if err != nil {
		return packet{}, err
	}
	if len(rest) < 4 {
		return packet{}, ErrMalformedPacket
	}
	p.AppName = appName
	p.UID = uid
	p.Hostname = hostname
	p.Port = int(binary.BigEndian.Uint32(rest[:4]))
	return p, nil
}

func appendString(buf []byte, s string) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrMalformedPacket
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrMalformedPacket
	}
	return string(b[:n]), b[n:], nil
}

// configureMulticast aplica as opções de socket usuais do mDNS: TTL 255
// de escopo de link e loopback habilitado, para que um server e um
// client no mesmo host ainda se encontrem. Best effort — uma plataforma
// que rejeite as opções continua funcionando no caso comum entre hosts.
func configureMulticast(conn *net.UDPConn) {
	p := ipv4.NewPacketConn(conn)
	p.SetMulticastTTL(255)
	p.SetMulticastLoopback(true)
}

// UID deriva o identificador de instância de 48 chars hex de um hash
// estável do IP de bind.
func UID(bindIP string) string {
	sum := sha256.Sum256([]byte(bindIP))
	return hex.EncodeToString(sum[:])[:48]
}

// ServiceType retorna a string de tipo de serviço mDNS para app, ex.
// `_screenlink._tcp.local.`.
func ServiceType(app string) string {
	return fmt.Sprintf("_%s._tcp.local.", app)
}

// Publisher responde a queries de descoberta por uma instância de server
// rodando.
type Publisher struct {
	appName  string
	uid      string
	hostname string
	port     int

	conn *net.UDPConn
	stop chan struct{}
	wg   sync.WaitGroup
}

// Publish começa a responder queries mDNS por appName na porta port,
// identificando esta instância por um UID derivado de bindIP. O
// Publisher retornado deve ser parado com Close quando o papel server
// parar.
func Publish(appName, bindIP, hostname string, port int) (*Publisher, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, MulticastGroup)
	if err != nil {
		return nil, fmt.Errorf("discovery: joining multicast group: %w", err)
	}
	configureMulticast(conn)

	p := &Publisher{
		appName:  appName,
		uid:      UID(bindIP),
		hostname: hostname,
		port:     port,
		conn:     conn,
		stop:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.serve()
	return p, nil
}

func (p *Publisher) serve() {
	defer p.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		p.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		pkt, err := decode(buf[:n])
		if err != nil || pkt.Type != msgQuery || pkt.AppName != p.appName {
			continue
		}

		resp := encode(packet{
			Type: msgResponse, AppName: p.appName, UID: p.uid,
			Hostname: p.hostname, Port: p.port,
		})
		p.conn.WriteToUDP(resp, addr)
	}
}

// Close para de responder queries e libera o socket multicast.
func (p *Publisher) Close() error {
	close(p.stop)
	err := p.conn.Close()
	p.wg.Wait()
	return err
}

// Browse envia uma query por appName e coleta respostas durante timeout,
// deduplicadas por UID.
func Browse(ctx context.Context, appName string, timeout time.Duration) ([]Instance, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, MulticastGroup)
	if err != nil {
		return nil, fmt.Errorf("discovery: joining multicast group: %w", err)
	}
	defer conn.Close()
	configureMulticast(conn)

	query := encode(packet{Type: msgQuery, AppName: appName})
	if _, err := conn.WriteToUDP(query, MulticastGroup); err != nil {
		return nil, fmt.Errorf("discovery: sending query: %w", err)
	}

	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)

	found := make(map[string]Instance)
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return toList(found), ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			break
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			continue
		}
		pkt, err := decode(buf[:n])
		if err != nil || pkt.Type != msgResponse || pkt.AppName != appName {
			continue
		}
		found[pkt.UID] = Instance{
			UID: pkt.UID, Address: addr.IP.String(), Port: pkt.Port, Hostname: pkt.Hostname,
		}
	}
	return toList(found), nil
}

func toList(found map[string]Instance) []Instance {
	out := make([]Instance, 0, len(found))
	for _, inst := range found {
		out = append(out, inst)
	}
	return out
}

// ResolvePort faz browse por instâncias existentes de appName e retorna
// a primeira porta a partir de preferredPort que nenhuma instância
// descoberta já anuncia. Apenas consultivo — a checagem autoritativa
// continua sendo o bind() do listener, que o chamador deve retentar se
// falhar.
func ResolvePort(ctx context.Context, appName string, preferredPort int, browseWait time.Duration) (int, error) {
	instances, err := Browse(ctx, appName, browseWait)
	if err != nil && len(instances) == 0 {
		return preferredPort, nil
	}

	taken := make(map[int]bool, len(instances))
	for _, inst := range instances {
		taken[inst.Port] = true
	}

	port := preferredPort
	for taken[port] {
		port++
	}
	return port, nil
}
