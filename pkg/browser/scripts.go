package browser

// bindingName is the page function the hook script reports through.
const bindingName = "pandoraboxEmit"

// hookScript subscribes to the WhatsApp Web message collection once per page load.
const hookScript = `() => {
  if (window.__pandoraboxHooked) return true;
  const collections = window.require('WAWebCollections');
  const wid = (w) => (w ? (w._serialized || String(w)) : '');
  collections.Msg.on('add', (msg) => {
    if (!msg.isNewMsg || msg.type !== 'chat') return;
    window.` + bindingName + `(JSON.stringify({
      kind: 'message',
      id: wid(msg.id),
      chatId: wid(msg.id.remote),
      from: wid(msg.from),
      to: wid(msg.to),
      body: msg.body || '',
      chatName: (msg.chat && msg.chat.formattedTitle) || '',
      fromMe: !!msg.id.fromMe,
      local: !!window.__pandoraboxSending,
      timestamp: msg.t || 0,
    }));
  });
  collections.Msg.on('change:ack', (msg, ack) => {
    window.` + bindingName + `(JSON.stringify({ kind: 'ack', id: wid(msg.id), ack: ack }));
  });
  window.__pandoraboxHooked = true;
  return true;
}`

// sendScript sends a text message and returns the WhatsApp message id.
const sendScript = `async ({ chatId, body }) => {
  const collections = window.require('WAWebCollections');
  const { createWid } = window.require('WAWebWidFactory');
  const { sendTextMsgToChat } = window.require('WAWebSendTextMsgChatAction');
  const id = createWid(chatId);
  const chat = collections.Chat.get(id) || (await collections.Chat.find(id));
  if (!chat) throw new Error('chat not found: ' + chatId);
  window.__pandoraboxSending = true;
  try {
    await sendTextMsgToChat(chat, body);
  } finally {
    window.__pandoraboxSending = false;
  }
  const last = chat.msgs.last();
  return last ? last.id._serialized : '';
}`

// listChatsScript returns every chat known to the web client.
const listChatsScript = `() => window.require('WAWebCollections').Chat.getModelsArray().map((c) => {
  const last = c.msgs.last();
  return {
    chatId: c.id._serialized,
    name: c.formattedTitle || c.name || '',
    isGroup: !!c.isGroup,
    timestamp: c.t || 0,
    lastMessage: (last && last.body) || '',
  };
})`

// reloadQRScript clicks the "reload QR code" control when WhatsApp Web shows one.
const reloadQRScript = `() => {
  const el = document.querySelector('div[data-ref] button, span[data-icon="refresh-large"]');
  if (!el) return false;
  (el.closest('button') || el).click();
  return true;
}`
