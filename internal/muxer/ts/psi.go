package ts

import "encoding/binary"

const (
	patPID uint16 = 0x0000
	sdtPID uint16 = 0x0011

	tableIDPAT = 0x00
	tableIDPMT = 0x02
	tableIDSDT = 0x42

	transportStreamID = 1
	programNumber     = 1
	originalNetworkID = 1
	serviceID         = 1
)

// buildPAT emits a single-program Program Association Table pointing
// program 1 at pmtPID.
func buildPAT(pmtPID uint16) []byte {
	body := make([]byte, 0, 13)
	body = appendU16(body, transportStreamID)
	body = append(body, 0xC1) // reserved(2)=11, version=0, current_next=1
	body = append(body, 0x00) // section_number
	body = append(body, 0x00) // last_section_number
	body = appendU16(body, programNumber)
	body = appendU16(body, 0xE000|pmtPID) // reserved(3)=111 | program_map_PID(13)
	return wrapSection(tableIDPAT, body)
}

// streamDescriptor is one elementary stream entry in the PMT.
type streamDescriptor struct {
	streamType byte
	pid        uint16
}

// buildPMT emits the Program Map Table for the given PCR PID and streams.
func buildPMT(pcrPID uint16, streams []streamDescriptor) []byte {
	body := make([]byte, 0, 16+4*len(streams))
	body = appendU16(body, programNumber)
	body = append(body, 0xC1) // version=0, current_next=1
	body = append(body, 0x00)
	body = append(body, 0x00)
	body = appendU16(body, 0xE000|pcrPID)
	body = appendU16(body, 0xF000) // program_info_length = 0
	for _, s := range streams {
		body = append(body, s.streamType)
		body = appendU16(body, 0xE000|s.pid)
		body = appendU16(body, 0xF000) // ES_info_length = 0
	}
	return wrapSection(tableIDPMT, body)
}

// buildSDT emits a Service Description Table advertising a single running
// digital-TV service named "stream" from provider "livecore".
func buildSDT() []byte {
	const providerName = "livecore"
	const serviceName = "stream"

	descriptor := make([]byte, 0, 4+len(providerName)+len(serviceName))
	descriptor = append(descriptor, 0x48) // service_descriptor tag
	descriptorBody := make([]byte, 0, 3+len(providerName)+len(serviceName))
	descriptorBody = append(descriptorBody, 0x01) // service_type: digital television
	descriptorBody = append(descriptorBody, byte(len(providerName)))
	descriptorBody = append(descriptorBody, providerName...)
	descriptorBody = append(descriptorBody, byte(len(serviceName)))
	descriptorBody = append(descriptorBody, serviceName...)
	descriptor = append(descriptor, byte(len(descriptorBody)))
	descriptor = append(descriptor, descriptorBody...)

	body := make([]byte, 0, 11+len(descriptor))
	body = appendU16(body, transportStreamID)
	body = append(body, 0xC1)
	body = append(body, 0x00)
	body = append(body, 0x00)
	body = appendU16(body, originalNetworkID)
	body = append(body, 0xFF) // reserved
	body = appendU16(body, serviceID)
	loopLen := uint16(len(descriptor))
	// reserved_future_use(6)=111111, EIT_schedule_flag=0, EIT_present_following_flag=0
	body = append(body, 0xFC)
	// running_status(3)=100 (running), free_CA_mode(1)=0, descriptors_loop_length(12)
	body = appendU16(body, 0x8000|loopLen)
	body = append(body, descriptor...)
	return wrapSection(tableIDSDT, body)
}

// wrapSection prefixes body with the pointer_field/table_id/section_length
// header and appends the CRC-32/MPEG-2 trailer, producing a full PSI
// section ready to be carried as a TS payload.
func wrapSection(tableID byte, body []byte) []byte {
	// section_length covers everything from the byte after section_length
	// through the CRC, inclusive: len(body) + 4 bytes of CRC.
	sectionLength := uint16(len(body) + 4)

	section := make([]byte, 0, 3+len(body)+4)
	section = append(section, tableID)
	section = append(section, byte(0xB0|((sectionLength>>8)&0x0F))) // section_syntax_indicator=1, '0'=0, reserved=11
	section = append(section, byte(sectionLength))
	section = append(section, body...)

	crc := crc32MPEG(section)
	section = appendU32(section, crc)

	// pointer_field = 0: the section starts immediately in the TS payload.
	return append([]byte{0x00}, section...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
